package crypto

import "errors"

// CryptoError sentinels, returned (wrapped) by this package's functions.
var (
	ErrInvalidFormat        = errors.New("crypto: invalid format")
	ErrVerificationFailed   = errors.New("crypto: verification failed")
	ErrKeyMismatch          = errors.New("crypto: key mismatch")
	ErrInsufficientRandomness = errors.New("crypto: insufficient randomness")
)
