package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	apperrors "github.com/medsolicita/case-api/pkg/errors"

	"github.com/medsolicita/case-api/internal/config"
)

const (
	defaultBaseURL = "https://api.mercadopago.com"

	// Final statuses are cached briefly so browser polling does not hammer
	// the provider. Non-final answers are never cached; reconciliation must
	// always see a fresh one.
	statusCacheTTL     = 30 * time.Second
	statusCacheCleanup = 5 * time.Minute
)

// Payer identifies who the charge is billed to.
type Payer struct {
	Email     string
	FirstName string
	LastName  string
	FullName  string
}

// ChargeRequest describes a direct PIX charge.
type ChargeRequest struct {
	Amount            float64
	Description       string
	ExternalReference string
	IdempotencyKey    string
	NotificationURL   string
	Payer             Payer
}

// PixCharge is the provider's answer to a direct PIX charge.
type PixCharge struct {
	PaymentID    string
	Status       string
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
}

// PreferenceRequest describes the fallback checkout-preference flow.
type PreferenceRequest struct {
	Title             string
	Description       string
	Amount            float64
	ExternalReference string
	NotificationURL   string
	ReturnURL         string
	Payer             Payer
}

// CheckoutPreference is the provider's answer to the fallback flow.
type CheckoutPreference struct {
	PreferenceID string
	CheckoutURL  string
}

// PaymentStatus is the provider's view of an existing payment.
type PaymentStatus struct {
	Status            string
	ExternalReference string
}

// Client calls the Mercado Pago REST API. Every call is bounded by the
// configured timeout; callers must not hold store locks across calls.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	statusCache *cache.Cache
}

func NewClient(cfg config.MercadoPagoConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:     baseURL,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		statusCache: cache.New(statusCacheTTL, statusCacheCleanup),
	}
}

func (c *Client) CreatePixPayment(ctx context.Context, req ChargeRequest) (*PixCharge, error) {
	payload := map[string]interface{}{
		"transaction_amount": req.Amount,
		"description":        req.Description,
		"payment_method_id":  "pix",
		"payer": map[string]string{
			"email":      req.Payer.Email,
			"first_name": req.Payer.FirstName,
			"last_name":  req.Payer.LastName,
		},
		"external_reference": req.ExternalReference,
		"notification_url":   req.NotificationURL,
	}

	headers := map[string]string{
		"X-Idempotency-Key": req.IdempotencyKey,
	}

	var resp struct {
		ID                 int64  `json:"id"`
		Status             string `json:"status"`
		PointOfInteraction struct {
			TransactionData struct {
				QRCode       string `json:"qr_code"`
				QRCodeBase64 string `json:"qr_code_base64"`
				TicketURL    string `json:"ticket_url"`
			} `json:"transaction_data"`
		} `json:"point_of_interaction"`
	}

	if err := c.do(ctx, http.MethodPost, "/v1/payments", headers, payload, &resp); err != nil {
		return nil, err
	}

	return &PixCharge{
		PaymentID:    strconv.FormatInt(resp.ID, 10),
		Status:       resp.Status,
		QRCode:       resp.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: resp.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:    resp.PointOfInteraction.TransactionData.TicketURL,
	}, nil
}

func (c *Client) CreateCheckoutPreference(ctx context.Context, req PreferenceRequest) (*CheckoutPreference, error) {
	description := req.Description
	if len(description) > 255 {
		description = description[:255]
	}

	payload := map[string]interface{}{
		"items": []map[string]interface{}{
			{
				"title":       req.Title,
				"description": description,
				"quantity":    1,
				"currency_id": "BRL",
				"unit_price":  req.Amount,
			},
		},
		"payer": map[string]string{
			"email": req.Payer.Email,
			"name":  req.Payer.FullName,
		},
		"external_reference": req.ExternalReference,
		"notification_url":   req.NotificationURL,
		"back_urls": map[string]string{
			"success": req.ReturnURL,
			"pending": req.ReturnURL,
			"failure": req.ReturnURL,
		},
		"auto_return": "approved",
		"payment_methods": map[string]interface{}{
			"excluded_payment_types": []map[string]string{
				{"id": "credit_card"},
				{"id": "debit_card"},
				{"id": "ticket"},
			},
			"installments": 1,
		},
	}

	var resp struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}

	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", nil, payload, &resp); err != nil {
		return nil, err
	}

	return &CheckoutPreference{
		PreferenceID: resp.ID,
		CheckoutURL:  resp.InitPoint,
	}, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatus, error) {
	if cached, ok := c.statusCache.Get(paymentID); ok {
		return cached.(*PaymentStatus), nil
	}

	var resp struct {
		Status            string `json:"status"`
		ExternalReference string `json:"external_reference"`
	}

	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, nil, &resp); err != nil {
		return nil, err
	}

	status := &PaymentStatus{
		Status:            resp.Status,
		ExternalReference: resp.ExternalReference,
	}
	// Only final statuses are cached. A cached "pending" would mask an
	// approval reported within the TTL, and a webhook delivery that reads
	// the stale entry is acked and never redelivered.
	if isFinalPaymentStatus(status.Status) {
		c.statusCache.Set(paymentID, status, cache.DefaultExpiration)
	}

	return status, nil
}

func isFinalPaymentStatus(s string) bool {
	switch s {
	case "approved", "rejected", "cancelled", "refunded", "charged_back":
		return true
	}
	return false
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.GatewayUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.GatewayUnavailable(
			fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.GatewayUnavailable(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
