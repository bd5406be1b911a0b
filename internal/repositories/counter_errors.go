package repositories

import "fmt"

// CounterErrorCode says why an order number could not be issued.
type CounterErrorCode string

const (
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the sequence reached its configured maximum.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError is returned by CounterRepository.Next. It satisfies RepositoryError so order
// creation maps it like any other store failure.
type CounterError struct {
	CounterID string
	Code      CounterErrorCode
	Message   string
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.CounterID != "" {
		return fmt.Sprintf("counter %s: %s", e.CounterID, e.Message)
	}
	return "counter: " + e.Message
}

func (e *CounterError) IsNotFound() bool { return false }

func (e *CounterError) IsConflict() bool { return false }

// IsUnavailable is true for an exhausted sequence; no order can be numbered until it is raised.
func (e *CounterError) IsUnavailable() bool { return e != nil && e.Code == CounterErrorExhausted }

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, counterID, message string) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{CounterID: counterID, Code: code, Message: message}
}
