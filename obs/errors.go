package obs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConnected is returned by calls made while no connection is open, and
// wraps the cause for requests that were pending when the connection dropped.
var ErrNotConnected = errors.New("obs: not connected")

// Request status codes reported by obs-websocket that callers react to.
const (
	CodeResourceNotFound        = 600
	CodeRequestProcessingFailed = 702
)

// RequestError is a request the controller answered with a failure status.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("obs: %s failed (code %d)", e.RequestType, e.Code)
	}
	return fmt.Sprintf("obs: %s failed (code %d): %s", e.RequestType, e.Code, e.Comment)
}

// IsSourceOffline reports whether err is a capture that failed because the
// source could not be rendered, typically an inactive or offline source.
func IsSourceOffline(err error) bool {
	var re *RequestError
	if !errors.As(err, &re) {
		return false
	}
	return re.Code == CodeRequestProcessingFailed &&
		strings.Contains(strings.ToLower(re.Comment), "failed to render screenshot")
}

// IsFilterNotFound reports whether err is a filter request that named a
// filter the source does not have.
func IsFilterNotFound(err error) bool {
	var re *RequestError
	if !errors.As(err, &re) {
		return false
	}
	if re.Code != CodeResourceNotFound {
		return false
	}
	lower := strings.ToLower(re.Comment)
	return strings.Contains(lower, "no filter was found") || strings.Contains(lower, "filter not found")
}
