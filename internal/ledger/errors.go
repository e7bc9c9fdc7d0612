package ledger

import (
	"fmt"
	"strings"
)

// TransportError reports a request that never produced an HTTP response (network failure, timeout).
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ledger: %s transport failure: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError reports a non-200 response from the ledger API.
type HTTPError struct {
	Operation string
	Status    int
	Body      string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ledger: %s returned HTTP %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("ledger: %s returned HTTP %d: %s", e.Operation, e.Status, e.Body)
}

// InputError is one structured error reported by the ledger API.
type InputError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Path    []string `json:"path"`
}

func (e InputError) String() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(" ")
	}
	b.WriteString(e.Message)
	if len(e.Path) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Path, "."))
		b.WriteString(")")
	}
	return b.String()
}

// APIError reports a 200 response that rejected the operation.
type APIError struct {
	Operation   string
	InputErrors []InputError
	// Cause is set when the response body could not be decoded.
	Cause error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ledger: %s: %v", e.Operation, e.Cause)
	}
	if len(e.InputErrors) == 0 {
		return fmt.Sprintf("ledger: %s did not succeed", e.Operation)
	}
	parts := make([]string, 0, len(e.InputErrors))
	for _, inputErr := range e.InputErrors {
		parts = append(parts, inputErr.String())
	}
	return fmt.Sprintf("ledger: %s rejected: %s", e.Operation, strings.Join(parts, "; "))
}

func (e *APIError) Unwrap() error { return e.Cause }
