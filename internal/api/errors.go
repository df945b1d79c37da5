package api

import (
	"errors"
	"fmt"
	"strings"
)

// TransportError wraps network-level failures (DNS, dial, timeout, torn
// connection, unreadable body). The request may or may not have reached the
// service; callers retry at their own pace.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServiceError is a well-formed response whose status reports failure.
// Errs carries the service's reported error list verbatim.
type ServiceError struct {
	Op     string
	Status int
	Errs   []string
}

func (e *ServiceError) Error() string {
	if len(e.Errs) == 0 {
		return fmt.Sprintf("%s: service returned status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: service returned status %d: %s", e.Op, e.Status, strings.Join(e.Errs, "; "))
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsService reports whether err is (or wraps) a ServiceError.
func IsService(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
