package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebhookRouter(t *testing.T) (*gin.Engine, Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r, repo, _, _ := newReconciler(t)
	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), NewController(r, NewRazorpayGateway(razorpaySecret, true)))
	return router, repo
}

func postWebhook(router *gin.Engine, provider string, payload []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook/"+provider, bytes.NewReader(payload))
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func outcomeOf(t *testing.T, w *httptest.ResponseRecorder) Outcome {
	t.Helper()
	var body struct {
		Data struct {
			Outcome Outcome `json:"outcome"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data.Outcome
}

func TestWebhookEndpoint(t *testing.T) {
	router, repo := newWebhookRouter(t)
	a := seedAttempt(t, repo, AttemptPending)
	payload := razorpayPayload("payment.captured", a.Reference)

	w := postWebhook(router, ProviderRazorpay, payload, signedHeader(payload))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, OutcomeApplied, outcomeOf(t, w))

	w = postWebhook(router, ProviderRazorpay, payload, signedHeader(payload))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, OutcomeDuplicate, outcomeOf(t, w))

	got, err := repo.GetByReference(context.Background(), a.Reference)
	require.NoError(t, err)
	assert.Equal(t, AttemptSucceeded, got.Status)
}

func TestWebhookEndpointRejections(t *testing.T) {
	router, _ := newWebhookRouter(t)
	payload := razorpayPayload("payment.captured", "order_1")

	assert.Equal(t, http.StatusUnauthorized, postWebhook(router, ProviderRazorpay, payload, http.Header{}).Code)
	assert.Equal(t, http.StatusNotFound, postWebhook(router, "paypal", payload, signedHeader(payload)).Code)

	w := postWebhook(router, ProviderRazorpay, payload, signedHeader(payload))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, OutcomeUnmatched, outcomeOf(t, w))
}
