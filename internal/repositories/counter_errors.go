package repositories

// CounterErrorCode classifies counter failures so services can map them
// to the right API error without string matching.
type CounterErrorCode string

const (
	CounterErrorUnknown      CounterErrorCode = "counter_unknown"
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the counter hit its configured max value,
	// for example when a vendor's SKU range is used up.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError is the typed failure returned by counter operations.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError builds a CounterError, defaulting the message to the code.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}
