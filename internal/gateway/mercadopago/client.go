package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vidaalinhada/alinhada/internal/config"
	gatewaydomain "github.com/vidaalinhada/alinhada/internal/gateway/domain"
	"go.uber.org/zap"
)

// Client talks to the Mercado Pago REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) *Client {
	timeout := cfg.Gateway.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.Gateway.BaseURL, "/"),
		token:      cfg.Gateway.AccessToken,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Named("gateway.mercadopago"),
	}
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	Payer             preferencePayer  `json:"payer"`
	BackURLs          *backURLs        `json:"back_urls,omitempty"`
	AutoReturn        string           `json:"auto_return,omitempty"`
	ExternalReference string           `json:"external_reference"`
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferencePayer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type backURLs struct {
	Success string `json:"success"`
	Pending string `json:"pending"`
	Failure string `json:"failure"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	TransactionAmount float64     `json:"transaction_amount"`
	PaymentTypeID     string      `json:"payment_type_id"`
	ExternalReference string      `json:"external_reference"`
	DateApproved      string      `json:"date_approved"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
	} `json:"transaction_details"`
}

type searchResponse struct {
	Results []paymentResponse `json:"results"`
}

func (c *Client) CreatePreference(ctx context.Context, req gatewaydomain.PreferenceRequest) (*gatewaydomain.Preference, error) {
	payload := preferenceRequest{
		Items: []preferenceItem{{
			Title:      req.Title,
			Quantity:   1,
			UnitPrice:  req.Amount,
			CurrencyID: req.Currency,
		}},
		Payer:             preferencePayer{Email: req.PayerEmail, Name: req.PayerName},
		ExternalReference: req.ExternalReference,
	}
	if back := strings.TrimSpace(req.BackURL); back != "" {
		payload.BackURLs = &backURLs{Success: back, Pending: back, Failure: back}
		payload.AutoReturn = "approved"
	}

	var out preferenceResponse
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", payload, &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.InitPoint == "" {
		return nil, gatewaydomain.ErrGatewayUnavailable
	}
	return &gatewaydomain.Preference{ID: out.ID, InitPoint: out.InitPoint}, nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*gatewaydomain.PaymentStatus, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, gatewaydomain.ErrPaymentNotFound
	}

	var out paymentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}
	status := toPaymentStatus(out)
	return &status, nil
}

func (c *Client) SearchRecentPayments(ctx context.Context, payerEmail string, since time.Time) ([]gatewaydomain.PaymentStatus, error) {
	query := url.Values{}
	query.Set("sort", "date_created")
	query.Set("criteria", "desc")
	query.Set("payer.email", strings.TrimSpace(strings.ToLower(payerEmail)))
	query.Set("range", "date_created")
	query.Set("begin_date", since.UTC().Format(time.RFC3339))
	query.Set("end_date", "NOW")

	var out searchResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/search?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}

	results := make([]gatewaydomain.PaymentStatus, 0, len(out.Results))
	for _, item := range out.Results {
		results = append(results, toPaymentStatus(item))
	}
	return results, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("gateway request failed", zap.String("path", path), zap.Error(err))
		return gatewaydomain.ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return gatewaydomain.ErrPaymentNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gatewaydomain.ErrInvalidCredentials
	case resp.StatusCode >= http.StatusInternalServerError:
		c.log.Warn("gateway returned server error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return gatewaydomain.ErrGatewayUnavailable
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("gateway request rejected: status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gatewaydomain.ErrGatewayUnavailable
	}
	return nil
}

func toPaymentStatus(item paymentResponse) gatewaydomain.PaymentStatus {
	status := gatewaydomain.PaymentStatus{
		ID:                item.ID.String(),
		Status:            normalizeStatus(item.Status),
		StatusDetail:      item.StatusDetail,
		TransactionAmount: item.TransactionAmount,
		PaymentTypeID:     item.PaymentTypeID,
		ExternalReference: item.ExternalReference,
		PayerEmail:        strings.ToLower(strings.TrimSpace(item.Payer.Email)),
		ReceiptURL:        item.TransactionDetails.ExternalResourceURL,
	}
	if approved, err := time.Parse(time.RFC3339, item.DateApproved); err == nil {
		utc := approved.UTC()
		status.DateApproved = &utc
	}
	return status
}

func normalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case gatewaydomain.StatusApproved:
		return gatewaydomain.StatusApproved
	case gatewaydomain.StatusPending, "in_process", "authorized":
		return gatewaydomain.StatusPending
	default:
		return gatewaydomain.StatusRejected
	}
}
