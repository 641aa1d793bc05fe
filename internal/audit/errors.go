package audit

import "errors"

var (
	ErrNonFiniteFloat   = errors.New("NaN and Inf are not allowed")
	ErrInvalidNumber    = errors.New("invalid json number")
	ErrNonStringMapKey  = errors.New("map keys must be strings")
	ErrUnsupportedType  = errors.New("unsupported type for canonicalization")
	ErrKeyCollision     = errors.New("normalized map key collision")
	ErrInvalidKeyLength = errors.New("invalid ed25519 key length")
	ErrDigestMismatch   = errors.New("receipt digest mismatch")
	ErrBadSignature     = errors.New("receipt signature invalid")
)
