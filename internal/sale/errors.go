package sale

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every rejected call returns one of these (possibly wrapped)
// and leaves the sale exactly as it was before the call.
var (
	ErrUnauthorized            = errors.New("sale: caller is not the owner")
	ErrSaleNotOpen             = errors.New("sale: sale is not open yet")
	ErrNotWhitelisted          = errors.New("sale: buyer is not whitelisted")
	ErrInvalidAmount           = errors.New("sale: invalid amount")
	ErrInsufficientPayment     = errors.New("sale: payment does not match quantity times price")
	ErrContributionOutOfBounds = errors.New("sale: contribution out of bounds")
	ErrInsufficientInventory   = errors.New("sale: insufficient token inventory")
	ErrAlreadyFinalized        = errors.New("sale: already finalized")
	ErrInvalidConfig           = errors.New("sale: invalid configuration")
	ErrInvalidInput            = errors.New("sale: invalid input")
	ErrTransferFailed          = errors.New("sale: ledger transfer failed")
	ErrTransferPending         = errors.New("sale: ledger transfer sent but not confirmed")
	ErrCommitFailed            = errors.New("sale: commit failed")
)

// ConfigError describes a rejected configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("sale: invalid configuration for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidConfig) match.
func (e ConfigError) Unwrap() error { return ErrInvalidConfig }

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrSaleNotOpen, "SaleNotOpen"},
	{ErrNotWhitelisted, "NotWhitelisted"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInsufficientPayment, "InsufficientPayment"},
	{ErrContributionOutOfBounds, "ContributionOutOfBounds"},
	{ErrInsufficientInventory, "InsufficientInventory"},
	{ErrAlreadyFinalized, "AlreadyFinalized"},
	{ErrInvalidConfig, "InvalidConfig"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrTransferPending, "TransferPending"},
	{ErrCommitFailed, "CommitFailed"},
}

// Kind returns the failure kind of err ("SaleNotOpen", "NotWhitelisted", ...)
// or "" when err is not a sale error.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// IsRejection reports whether err is a precondition failure the caller can
// fix by resubmitting a different request.
func IsRejection(err error) bool {
	switch Kind(err) {
	case "", "TransferFailed", "TransferPending", "CommitFailed":
		return false
	}
	return true
}

// pending reports whether err is a transfer whose outcome is not known yet:
// it was handed to the ledger and may still complete.
func pending(err error) bool {
	var p interface{ Pending() bool }
	return errors.As(err, &p) && p.Pending()
}

// wrapErr returns an error matching both kind and cause under errors.Is.
func wrapErr(kind, cause error) error {
	return fmt.Errorf("%w: %w", kind, cause)
}
