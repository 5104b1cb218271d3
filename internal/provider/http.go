package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every vendor call.
const DefaultTimeout = 15 * time.Second

// NewHTTPClient returns the client vendor adapters share when none is injected.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// StatusRetryable reports whether an HTTP status is worth retrying.
func StatusRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// FromTransportError maps a client.Do error into a retryable failure.
func FromTransportError(vendor string, err error) Result {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransientFailure("%s request timed out: %v", vendor, err)
	}
	return TransientFailure("%s request failed: %v", vendor, err)
}

// ReadBody reads at most 64KiB of a vendor response.
func ReadBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return body
}

// FromHTTPStatus builds a failure for a non-2xx vendor response, using vendorMsg
// when the adapter managed to parse one.
func FromHTTPStatus(vendor string, code int, vendorMsg string, raw []byte) Result {
	msg := strings.TrimSpace(vendorMsg)
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(code)
	}
	return Result{
		Error:     fmt.Sprintf("%s returned %d: %s", vendor, code, msg),
		Retryable: StatusRetryable(code),
	}
}

// DecodeJSON unmarshals a vendor body, wrapping parse errors.
func DecodeJSON(vendor string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%s: malformed response: %w", vendor, err)
	}
	return nil
}
