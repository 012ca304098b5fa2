package crypto

import "fmt"

// Commit returns hash(randomness ‖ msg), binding msg without revealing it.
func Commit(msg, randomness []byte) string {
	body := make([]byte, 0, len(randomness)+len(msg))
	body = append(body, randomness...)
	body = append(body, msg...)
	return Hash(body)
}

// CommitVerify checks that commitment was produced by Commit(msg, randomness).
func CommitVerify(commitment string, msg, randomness []byte) error {
	if Commit(msg, randomness) != commitment {
		return fmt.Errorf("commitment: %w", ErrVerificationFailed)
	}
	return nil
}
