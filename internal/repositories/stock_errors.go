package repositories

import (
	"fmt"
	"strings"
)

// StockErrorCode enumerates failure reasons for stock ledger operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInvalidInput indicates the caller supplied invalid arguments.
	StockErrorInvalidInput StockErrorCode = "stock_invalid_input"
	// StockErrorUnavailable indicates one or more lines cannot be fulfilled.
	StockErrorUnavailable StockErrorCode = "stock_unavailable"
)

// Reasons recorded per failing stock line.
const (
	// StockLineUnknownProduct indicates the referenced product does not exist.
	StockLineUnknownProduct = "unknown_product"
	// StockLineInactiveProduct indicates the product is not purchasable.
	StockLineInactiveProduct = "inactive_product"
	// StockLineInsufficient indicates the requested quantity exceeds availability.
	StockLineInsufficient = "insufficient_stock"
)

// StockLineError describes a single line that failed validation.
type StockLineError struct {
	ProductID string
	Name      string
	Reason    string
	Requested int
	Available int
}

func (l StockLineError) String() string {
	switch l.Reason {
	case StockLineInsufficient:
		return fmt.Sprintf("%s: requested %d, available %d", l.ProductID, l.Requested, l.Available)
	default:
		return fmt.Sprintf("%s: %s", l.ProductID, l.Reason)
	}
}

// StockError wraps ledger failures with machine readable codes and the full
// set of failing lines, so callers can report every problem at once.
type StockError struct {
	Op      string
	Code    StockErrorCode
	Message string
	Lines   []StockLineError
	Err     error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if len(e.Lines) > 0 {
		parts := make([]string, 0, len(e.Lines))
		for _, line := range e.Lines {
			parts = append(parts, line.String())
		}
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(parts, "; "))
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, message string, lines []StockLineError, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		Message: message,
		Lines:   lines,
		Err:     err,
	}
}
