package cognition

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for remote calls. Timeout, ServiceUnavailable and
// MalformedResponse are recovered locally through deterministic fallbacks
// and never escape the pipeline entry points. DimensionMismatch signals a
// configuration fault (wrong embedding model vs. wrong collection) and is
// the single error that must propagate.
var (
	ErrTimeout            = errors.New("remote call exceeded its time budget")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrMalformedResponse  = errors.New("malformed response")
)

// DimensionMismatchError reports an embedding whose length does not match
// the collection's configured dimension.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, want %d", e.Got, e.Want)
}

// IsDimensionMismatch reports whether err is (or wraps) a DimensionMismatchError.
func IsDimensionMismatch(err error) bool {
	var dm *DimensionMismatchError
	return errors.As(err, &dm)
}

// IsRecoverable reports whether err may be absorbed by a fallback path.
// Everything except a dimension mismatch is recoverable.
func IsRecoverable(err error) bool {
	return err != nil && !IsDimensionMismatch(err)
}

// wrapTransportError maps a transport-level failure onto the taxonomy.
// Context expiry becomes ErrTimeout, anything else ErrServiceUnavailable.
func wrapTransportError(service string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", service, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", service, ErrServiceUnavailable, err)
}

// wrapStatusError maps a non-2xx HTTP response onto the taxonomy.
func wrapStatusError(service string, status int, body []byte) error {
	if status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout {
		return fmt.Errorf("%s: %w: status %d", service, ErrTimeout, status)
	}
	return fmt.Errorf("%s: %w: status %d: %s", service, ErrServiceUnavailable, status, string(body))
}

// wrapDecodeError marks an unparsable or structurally invalid response.
func wrapDecodeError(service string, err error) error {
	return fmt.Errorf("%s: %w: %v", service, ErrMalformedResponse, err)
}
