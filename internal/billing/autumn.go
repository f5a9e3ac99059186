// Package billing talks to the Autumn metered-billing API.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"medfinder/internal/config"
)

// ErrNotConfigured is returned by every call on a client built without a
// secret key.
var ErrNotConfigured = errors.New("billing provider not configured")

// APIError is a non-2xx response from Autumn.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("autumn returned status %d: %s", e.Status, e.Body)
}

type CheckResult struct {
	Allowed   bool     `json:"allowed"`
	Balance   *float64 `json:"balance,omitempty"`
	Unlimited bool     `json:"unlimited,omitempty"`
}

type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email,omitempty"`
	Name     string            `json:"name,omitempty"`
	Products []CustomerProduct `json:"products"`
	Features map[string]struct {
		Balance   *float64 `json:"balance,omitempty"`
		Unlimited bool     `json:"unlimited,omitempty"`
		Usage     float64  `json:"usage"`
	} `json:"features"`
}

type CustomerProduct struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Client is safe for concurrent use. Build it once at startup.
type Client struct {
	baseURL    string
	secretKey  string
	featureID  string
	productID  string
	httpClient *http.Client
}

// NewClient builds a client from config. httpClient may be nil.
func NewClient(cfg config.BillingConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		featureID:  cfg.FeatureID,
		productID:  cfg.ProductID,
		httpClient: httpClient,
	}
}

// Configured reports whether a secret key was supplied.
func (c *Client) Configured() bool {
	return c != nil && c.secretKey != ""
}

func (c *Client) FeatureID() string { return c.featureID }

// Check asks whether the customer is entitled to one more unit of the
// metered feature.
func (c *Client) Check(ctx context.Context, customerID string) (CheckResult, error) {
	var out CheckResult
	err := c.do(ctx, http.MethodPost, "/check", map[string]interface{}{
		"customer_id": customerID,
		"feature_id":  c.featureID,
	}, &out)
	return out, err
}

// Track records value units of usage against the metered feature.
func (c *Client) Track(ctx context.Context, customerID string, value float64, properties map[string]interface{}) error {
	body := map[string]interface{}{
		"customer_id": customerID,
		"feature_id":  c.featureID,
		"value":       value,
	}
	if len(properties) > 0 {
		body["properties"] = properties
	}
	return c.do(ctx, http.MethodPost, "/track", body, nil)
}

// Checkout attaches the paid product and returns the hosted checkout URL.
// The URL is empty when the customer already has a payment method and the
// product was attached directly.
func (c *Client) Checkout(ctx context.Context, customerID, email, successURL string) (string, error) {
	var out struct {
		CheckoutURL string `json:"checkout_url"`
	}
	body := map[string]interface{}{
		"customer_id": customerID,
		"product_id":  c.productID,
	}
	if successURL != "" {
		body["success_url"] = successURL
	}
	if email != "" {
		body["customer_data"] = map[string]string{"email": email}
	}
	err := c.do(ctx, http.MethodPost, "/attach", body, &out)
	return out.CheckoutURL, err
}

// Cancel ends the customer's paid product.
func (c *Client) Cancel(ctx context.Context, customerID string) error {
	return c.do(ctx, http.MethodPost, "/cancel", map[string]interface{}{
		"customer_id": customerID,
		"product_id":  c.productID,
	}, nil)
}

// Customer returns the customer's products and feature balances.
func (c *Client) Customer(ctx context.Context, customerID string) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(customerID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
