package crypto

import "errors"

var (
	// ErrCryptoVerificationFailed is returned when a signature or an
	// authenticated ciphertext does not verify. No plaintext accompanies it.
	ErrCryptoVerificationFailed = errors.New("crypto verification failed")

	ErrInvalidKeyLength = errors.New("invalid key length")
	ErrInvalidPadding   = errors.New("invalid padding")
	ErrShortCiphertext  = errors.New("ciphertext too short")
	ErrRandomFailure    = errors.New("random source failure")
)
