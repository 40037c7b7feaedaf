package token

import "errors"

var (
	errNilState = errors.New("token: state not configured")

	// ErrUnknownToken is returned when the referenced symbol has no
	// registered metadata.
	ErrUnknownToken = errors.New("token: unknown token")
	// ErrInvalidAmount rejects nil, zero or negative amounts.
	ErrInvalidAmount = errors.New("token: invalid amount")
	// ErrInsufficientBalance is returned when a debit exceeds the holder's
	// balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance is returned when a delegated transfer
	// exceeds the approved amount.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrNotAuthorized is returned when the caller is not the token's mint
	// authority.
	ErrNotAuthorized = errors.New("token: not authorized")
)
