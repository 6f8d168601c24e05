package payments

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	ProviderStripe        = "stripe"
	StripeSignatureHeader = "Stripe-Signature"
)

// StripeGateway verifies Stripe-Signature with stripe-go and maps payment
// intent events onto attempt results. The attempt reference travels in the
// intent metadata; the intent ID is the fallback. Amounts are reported in
// the smallest currency unit, like attempt amounts.
type StripeGateway struct {
	secret string
}

func NewStripeGateway(secret string) *StripeGateway {
	return &StripeGateway{secret: secret}
}

func (g *StripeGateway) Name() string { return ProviderStripe }

func (g *StripeGateway) Parse(header http.Header, payload []byte) (Callback, error) {
	sig := header.Get(StripeSignatureHeader)
	if sig == "" || g.secret == "" {
		return Callback{}, fmt.Errorf("%w: missing %s header or secret", ErrInvalidSignature, StripeSignatureHeader)
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, g.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var status AttemptStatus
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		status = AttemptSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		status = AttemptFailed
	case stripe.EventTypePaymentIntentCanceled:
		status = AttemptExpired
	default:
		return Callback{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return Callback{}, fmt.Errorf("could not parse stripe.PaymentIntent: %w", err)
	}

	reference := pi.Metadata["reference"]
	if reference == "" {
		reference = pi.ID
	}
	metadata := map[string]string{
		"event":          string(event.Type),
		"payment_intent": pi.ID,
	}
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		metadata[MetaError] = pi.LastPaymentError.Msg
	}
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}

	return Callback{
		Reference: reference,
		Status:    status,
		Provider:  ProviderStripe,
		Amount:    amount,
		Currency:  strings.ToUpper(string(pi.Currency)),
		EventID:   event.ID,
		Metadata:  metadata,
	}, nil
}
