package payments

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
	ErrAmountMismatch   = errors.New("captured amount does not match attempt")
)

// Gateway verifies and decodes one provider's webhook deliveries.
type Gateway interface {
	Name() string
	// Parse returns ErrInvalidSignature for unauthenticated payloads and
	// ErrUnsupportedEvent for events that carry no payment result.
	Parse(header http.Header, payload []byte) (Callback, error)
}
