// Package apperr holds the error taxonomy shared by the ledger, the moderation
// queue and the conversation engine.
package apperr

import "errors"

var (
	// ErrValidation marks malformed or out-of-range user input. The dialog
	// re-prompts and nothing is mutated.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientFunds is returned by a debit that would drive a balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAlreadyDecided is returned to the loser of a moderation race.
	ErrAlreadyDecided = errors.New("already decided")
	ErrNotFound       = errors.New("not found")
	ErrDenied         = errors.New("denied")
	// ErrGatewayUnavailable is logged and swallowed, never returned past a notifier.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
)

// Terminal reports whether err should end the current request with a message
// to the caller instead of a re-prompt.
func Terminal(err error) bool {
	return errors.Is(err, ErrAlreadyDecided) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDenied)
}
