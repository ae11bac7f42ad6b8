package telemetry

import "errors"

var (
	// ErrNetworkUnavailable covers transport failures, timeouts and non-2xx replies.
	ErrNetworkUnavailable = errors.New("decoder endpoint unavailable")
	// ErrMalformedPayload is returned when a 2xx body cannot be turned into a Frame.
	ErrMalformedPayload = errors.New("malformed decoder payload")
)
