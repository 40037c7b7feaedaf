package core

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the role or feeder
	// designation an operation requires.
	ErrUnauthorized = errors.New("core: caller not authorized")
	// ErrReceiptTokenManaged rejects direct mint or burn of a reserve's
	// receipt token. Receipt supply only moves through deposits,
	// withdrawals and liquidations.
	ErrReceiptTokenManaged = errors.New("core: receipt token supply is managed by its reserve")
)
