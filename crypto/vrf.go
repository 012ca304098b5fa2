package crypto

import (
	"encoding/hex"
	"fmt"
)

// vrfOutputSize is the byte length of a VRF output.
const vrfOutputSize = 32

// VRFEval computes a verifiable pseudorandom output for input under priv.
// output = SHAKE256(prf_key ‖ input), where prf_key is itself derived from
// priv; proof is a signature over (input ‖ output) verifiable under the
// corresponding public key. Anyone holding pub, input, output and proof can
// confirm the output was produced by the holder of priv without learning priv.
func VRFEval(priv PrivateKey, input []byte) (output []byte, proof string, err error) {
	if len(input) == 0 {
		return nil, "", fmt.Errorf("vrf_eval: %w: empty input", ErrInvalidFormat)
	}
	prfKey := Shake256(priv, 32)
	output = Shake256(append(append([]byte{}, prfKey...), input...), vrfOutputSize)

	body := make([]byte, 0, len(input)+len(output))
	body = append(body, input...)
	body = append(body, output...)
	proof = Sign(priv, body)
	return output, proof, nil
}

// VRFVerify checks that output and proof were produced by the holder of the
// private key matching pub, for the given input.
func VRFVerify(pub PublicKey, input, output []byte, proof string) (bool, error) {
	if len(output) != vrfOutputSize {
		return false, fmt.Errorf("vrf_verify: %w: output must be %d bytes", ErrInvalidFormat, vrfOutputSize)
	}
	body := make([]byte, 0, len(input)+len(output))
	body = append(body, input...)
	body = append(body, output...)
	if err := Verify(pub, body, proof); err != nil {
		return false, nil
	}
	return true, nil
}

// VRFOutputHex is a convenience accessor used when persisting VRF outputs in
// JSON envelopes (block headers, lottery tickets).
func VRFOutputHex(output []byte) string {
	return hex.EncodeToString(output)
}

// VRFOutputFromHex decodes a hex-encoded VRF output, validating its length.
func VRFOutputFromHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("vrf output hex: %w", err)
	}
	if len(b) != vrfOutputSize {
		return nil, fmt.Errorf("%w: vrf output must be %d bytes, got %d", ErrInvalidFormat, vrfOutputSize, len(b))
	}
	return b, nil
}
