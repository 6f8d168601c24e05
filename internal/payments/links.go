package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
)

// LinkCustomer is who a payment link is sent to.
type LinkCustomer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"contact,omitempty"`
}

// LinkRequest asks a gateway for a hosted payment page bound to one
// attempt. The gateway reports the result through its webhook with the
// reference in the link notes.
type LinkRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	Description string
	Customer    LinkCustomer
	ExpiresAt   time.Time
}

type Link struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Reference string    `json:"reference"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LinkIssuer interface {
	IssueLink(ctx context.Context, req LinkRequest) (*Link, error)
}

const razorpayAPIBase = "https://api.razorpay.com/v1"

// RazorpayLinks creates Razorpay payment links through the REST API.
type RazorpayLinks struct {
	BaseURL    *url.URL
	KeyID      string
	KeySecret  string
	HTTPClient *http.Client
}

// NewRazorpayLinks builds a client for the payment link API. An empty
// baseURL means the live Razorpay endpoint.
func NewRazorpayLinks(keyID, keySecret, baseURL string) (*RazorpayLinks, error) {
	if keyID == "" || keySecret == "" {
		return nil, fmt.Errorf("%w: razorpay key id and secret are required", apperrors.ErrInvalidInput)
	}
	if baseURL == "" {
		baseURL = razorpayAPIBase
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid razorpay base url: %w", err)
	}
	return &RazorpayLinks{
		BaseURL:    parsed,
		KeyID:      keyID,
		KeySecret:  keySecret,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type razorpayLinkBody struct {
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	AcceptPartial bool              `json:"accept_partial"`
	ExpireBy      int64             `json:"expire_by"`
	ReferenceID   string            `json:"reference_id"`
	Description   string            `json:"description,omitempty"`
	Customer      LinkCustomer      `json:"customer"`
	Notify        map[string]bool   `json:"notify"`
	Notes         map[string]string `json:"notes"`
}

type razorpayLinkResponse struct {
	ID       string `json:"id"`
	ShortURL string `json:"short_url"`
	Status   string `json:"status"`
	ExpireBy int64  `json:"expire_by"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *RazorpayLinks) IssueLink(ctx context.Context, req LinkRequest) (*Link, error) {
	body := razorpayLinkBody{
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		ExpireBy:    req.ExpiresAt.Unix(),
		ReferenceID: req.Reference,
		Description: req.Description,
		Customer:    req.Customer,
		Notify: map[string]bool{
			"sms":   req.Customer.Phone != "",
			"email": req.Customer.Email != "",
		},
		Notes: map[string]string{"reference": req.Reference},
	}

	var out razorpayLinkResponse
	if err := c.post(ctx, "payment_links", body, &out); err != nil {
		return nil, err
	}
	if out.ShortURL == "" {
		return nil, fmt.Errorf("razorpay returned payment link %q without a url", out.ID)
	}
	expiresAt := req.ExpiresAt
	if out.ExpireBy > 0 {
		expiresAt = time.Unix(out.ExpireBy, 0).UTC()
	}
	return &Link{ID: out.ID, URL: out.ShortURL, Reference: req.Reference, ExpiresAt: expiresAt}, nil
}

func (c *RazorpayLinks) post(ctx context.Context, reqPath string, body, out interface{}) error {
	u := *c.BaseURL
	u.Path = path.Join(c.BaseURL.Path, reqPath)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.KeyID, c.KeySecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach razorpay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		var apiErr razorpayErrorResponse
		msg := strings.TrimSpace(string(raw))
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Description != "" {
			msg = apiErr.Error.Code + ": " + apiErr.Error.Description
		}
		if resp.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: razorpay rejected payment link (400): %s", apperrors.ErrInvalidInput, msg)
		}
		return fmt.Errorf("razorpay payment link failed (%d): %s", resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
