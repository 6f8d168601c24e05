package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	ProviderRazorpay        = "razorpay"
	RazorpaySignatureHeader = "X-Razorpay-Signature"
)

var razorpayStatuses = map[string]AttemptStatus{
	"payment.captured":       AttemptSucceeded,
	"payment_link.paid":      AttemptSucceeded,
	"order.paid":             AttemptSucceeded,
	"payment.failed":         AttemptFailed,
	"payment_link.expired":   AttemptExpired,
	"payment_link.cancelled": AttemptExpired,
}

type razorpayEntity struct {
	ID          string            `json:"id"`
	OrderID     string            `json:"order_id"`
	ReferenceID string            `json:"reference_id"`
	Status      string            `json:"status"`
	Amount      int64             `json:"amount"`
	AmountPaid  int64             `json:"amount_paid"`
	Currency    string            `json:"currency"`
	Method      string            `json:"method"`
	Notes       map[string]string `json:"notes"`
	Error       string            `json:"error_description"`
}

// reference is the attempt reference the entity was created for. Orders and
// links are created with notes.reference; reference_id and order_id are
// fallbacks.
func (e razorpayEntity) reference() string {
	if ref := e.Notes["reference"]; ref != "" {
		return ref
	}
	if e.ReferenceID != "" {
		return e.ReferenceID
	}
	return e.OrderID
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"payment"`
		PaymentLink struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"payment_link"`
	} `json:"payload"`
}

// RazorpayGateway verifies the hex HMAC-SHA256 of the raw body.
type RazorpayGateway struct {
	secret string
	// requireSignature false with an empty secret accepts unsigned
	// payloads; local development only.
	requireSignature bool
}

func NewRazorpayGateway(secret string, requireSignature bool) *RazorpayGateway {
	return &RazorpayGateway{secret: secret, requireSignature: requireSignature}
}

func (g *RazorpayGateway) Name() string { return ProviderRazorpay }

func (g *RazorpayGateway) Parse(header http.Header, payload []byte) (Callback, error) {
	if err := g.verify(payload, header.Get(RazorpaySignatureHeader)); err != nil {
		return Callback{}, err
	}

	var wh razorpayWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return Callback{}, fmt.Errorf("invalid razorpay payload: %w", err)
	}

	status, ok := razorpayStatuses[wh.Event]
	if !ok {
		return Callback{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, wh.Event)
	}

	payment := wh.Payload.Payment.Entity
	reference := payment.reference()
	amount, currency := payment.Amount, payment.Currency
	if strings.HasPrefix(wh.Event, "payment_link.") {
		link := wh.Payload.PaymentLink.Entity
		if ref := link.reference(); ref != "" {
			reference = ref
		}
		if amount == 0 {
			amount = link.AmountPaid
		}
		if currency == "" {
			currency = link.Currency
		}
	}

	metadata := map[string]string{"event": wh.Event}
	if payment.ID != "" {
		metadata["payment_id"] = payment.ID
	}
	if payment.Method != "" {
		metadata["method"] = payment.Method
	}
	if payment.Error != "" {
		metadata[MetaError] = payment.Error
	}

	return Callback{
		Reference: reference,
		Status:    status,
		Provider:  ProviderRazorpay,
		Amount:    amount,
		Currency:  strings.ToUpper(currency),
		EventID:   header.Get("X-Razorpay-Event-Id"),
		Metadata:  metadata,
	}, nil
}

func (g *RazorpayGateway) verify(payload []byte, signature string) error {
	if g.secret == "" {
		if g.requireSignature {
			return fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
		}
		return nil
	}
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, RazorpaySignatureHeader)
	}
	received, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}
	if !hmac.Equal(received, SignRazorpay(g.secret, payload)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignRazorpay computes the raw HMAC-SHA256 of payload.
func SignRazorpay(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
