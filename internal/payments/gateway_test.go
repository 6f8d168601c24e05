package payments

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const razorpaySecret = "rzp_test_webhook_secret"

func razorpayPayload(event, orderID string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": %q,
		"payload": {
			"payment": {"entity": {"id": "pay_29QQoUBi66xm2f", "order_id": %q, "status": "captured", "amount": 12000, "currency": "inr", "method": "upi"}},
			"payment_link": {"entity": {"id": "plink_1", "order_id": %q, "status": "paid", "amount_paid": 12000, "currency": "INR"}}
		}
	}`, event, orderID, orderID))
}

func signedHeader(payload []byte) http.Header {
	h := http.Header{}
	h.Set(RazorpaySignatureHeader, hex.EncodeToString(SignRazorpay(razorpaySecret, payload)))
	return h
}

func TestRazorpayGatewayParse(t *testing.T) {
	g := NewRazorpayGateway(razorpaySecret, true)

	cases := []struct {
		event  string
		status AttemptStatus
	}{
		{"payment.captured", AttemptSucceeded},
		{"payment_link.paid", AttemptSucceeded},
		{"payment.failed", AttemptFailed},
		{"payment_link.expired", AttemptExpired},
		{"payment_link.cancelled", AttemptExpired},
	}
	for _, tc := range cases {
		t.Run(tc.event, func(t *testing.T) {
			payload := razorpayPayload(tc.event, "order_ABC")
			cb, err := g.Parse(signedHeader(payload), payload)
			require.NoError(t, err)
			assert.Equal(t, "order_ABC", cb.Reference)
			assert.Equal(t, tc.status, cb.Status)
			assert.Equal(t, ProviderRazorpay, cb.Provider)
			assert.Equal(t, int64(12000), cb.Amount)
			assert.Equal(t, "INR", cb.Currency)
		})
	}
}

func TestRazorpayGatewayPrefersNotesReference(t *testing.T) {
	g := NewRazorpayGateway(razorpaySecret, true)

	payload := []byte(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "pay_1", "order_id": "order_9", "status": "captured", "amount": 13500, "currency": "INR",
			"notes": {"reference": "ZS-20260501-ABCDEF-P1"}
		}}}
	}`)
	cb, err := g.Parse(signedHeader(payload), payload)
	require.NoError(t, err)
	assert.Equal(t, "ZS-20260501-ABCDEF-P1", cb.Reference)

	// links carry the reference on the link entity, the payment has none
	payload = []byte(`{
		"event": "payment_link.paid",
		"payload": {
			"payment": {"entity": {"id": "pay_2", "status": "captured"}},
			"payment_link": {"entity": {"id": "plink_2", "reference_id": "ZS-20260501-ABCDEF-P2", "amount_paid": 13500, "currency": "INR"}}
		}
	}`)
	cb, err = g.Parse(signedHeader(payload), payload)
	require.NoError(t, err)
	assert.Equal(t, "ZS-20260501-ABCDEF-P2", cb.Reference)
	assert.Equal(t, int64(13500), cb.Amount)
	assert.Equal(t, "INR", cb.Currency)
}

func TestVerifyCapture(t *testing.T) {
	a := &Attempt{Reference: "ZS-1-P1", Amount: 13500, Currency: "INR"}

	cases := []struct {
		name string
		cb   Callback
		ok   bool
	}{
		{"exact", Callback{Amount: 13500, Currency: "INR"}, true},
		{"lower case currency", Callback{Amount: 13500, Currency: "inr"}, true},
		{"currency not reported", Callback{Amount: 13500}, true},
		{"short", Callback{Amount: 13499, Currency: "INR"}, false},
		{"over", Callback{Amount: 27000, Currency: "INR"}, false},
		{"no amount", Callback{Currency: "INR"}, false},
		{"other currency", Callback{Amount: 13500, Currency: "USD"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := a.VerifyCapture(tc.cb)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrAmountMismatch)
		})
	}
}

func TestRazorpayGatewayRejectsBadSignatures(t *testing.T) {
	g := NewRazorpayGateway(razorpaySecret, true)
	payload := razorpayPayload("payment.captured", "order_ABC")

	_, err := g.Parse(http.Header{}, payload)
	require.ErrorIs(t, err, ErrInvalidSignature)

	h := http.Header{}
	h.Set(RazorpaySignatureHeader, "not-hex")
	_, err = g.Parse(h, payload)
	require.ErrorIs(t, err, ErrInvalidSignature)

	tampered := razorpayPayload("payment.captured", "order_XYZ")
	_, err = g.Parse(signedHeader(payload), tampered)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = NewRazorpayGateway("", true).Parse(http.Header{}, payload)
	require.ErrorIs(t, err, ErrInvalidSignature)

	// unsigned payloads only pass when signatures are explicitly optional
	cb, err := NewRazorpayGateway("", false).Parse(http.Header{}, payload)
	require.NoError(t, err)
	assert.Equal(t, AttemptSucceeded, cb.Status)
}

func TestRazorpayGatewayUnsupportedEvent(t *testing.T) {
	g := NewRazorpayGateway(razorpaySecret, true)
	payload := razorpayPayload("refund.processed", "order_ABC")
	_, err := g.Parse(signedHeader(payload), payload)
	require.ErrorIs(t, err, ErrUnsupportedEvent)
}

const stripeSecret = "whsec_test_secret"

func stripeSigned(t *testing.T, eventType, reference string) ([]byte, http.Header) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"object": "event",
		"type": %q,
		"data": {"object": {"id": "pi_123", "object": "payment_intent", "amount": 13500, "amount_received": 13500, "currency": "inr", "metadata": {"reference": %q}}}
	}`, eventType, reference))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    stripeSecret,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set(StripeSignatureHeader, signed.Header)
	return signed.Payload, h
}

func TestStripeGatewayParse(t *testing.T) {
	g := NewStripeGateway(stripeSecret)

	payload, header := stripeSigned(t, "payment_intent.succeeded", "ZSPAY-1")
	cb, err := g.Parse(header, payload)
	require.NoError(t, err)
	assert.Equal(t, "ZSPAY-1", cb.Reference)
	assert.Equal(t, AttemptSucceeded, cb.Status)
	assert.Equal(t, "pi_123", cb.Metadata["payment_intent"])
	assert.Equal(t, int64(13500), cb.Amount)
	assert.Equal(t, "INR", cb.Currency)

	payload, header = stripeSigned(t, "payment_intent.payment_failed", "ZSPAY-1")
	cb, err = g.Parse(header, payload)
	require.NoError(t, err)
	assert.Equal(t, AttemptFailed, cb.Status)

	payload, header = stripeSigned(t, "charge.refunded", "ZSPAY-1")
	_, err = g.Parse(header, payload)
	require.ErrorIs(t, err, ErrUnsupportedEvent)

	_, err = NewStripeGateway("whsec_other").Parse(header, payload)
	require.ErrorIs(t, err, ErrInvalidSignature)
}
