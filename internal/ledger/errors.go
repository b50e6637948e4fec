package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned when a buy would drive cash negative.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrInsufficientQuantity is returned when a sell exceeds the held quantity.
	ErrInsufficientQuantity = errors.New("ledger: insufficient quantity")

	ErrNotPending        = errors.New("ledger: transaction is not pending")
	ErrInvalidQuantity   = errors.New("ledger: quantity must be positive")
	ErrInvalidAmount     = errors.New("ledger: amount must be positive")
	ErrUnsupportedType   = errors.New("ledger: unsupported transaction type")
	ErrPriceUnavailable  = errors.New("ledger: price unavailable")
	ErrPortfolioLimit    = errors.New("ledger: portfolio limit reached")
	ErrPortfolioInactive = errors.New("ledger: portfolio is not active")
	ErrNotOwner          = errors.New("ledger: portfolio belongs to another user")
)
