package paynow

import (
	"errors"
	"fmt"
)

// ErrSignatureKeyMissing indicates the shared signing secret was not configured.
var ErrSignatureKeyMissing = errors.New("paynow: signature key is not configured")

// ValidationError reports a missing or invalid mandatory request field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("paynow: missing or invalid field %q", e.Field)
}

// IsValidation reports whether the error chain contains a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// GatewayError carries a non-2xx upstream response. Body is populated only
// outside production so gateway internals are not leaked to callers.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("paynow: gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("paynow: gateway returned status %d: %s", e.StatusCode, e.Body)
}
