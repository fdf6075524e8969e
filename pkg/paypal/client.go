// Package paypal is a minimal client for the two PayPal integrations the
// storefront settles through: the Checkout/Orders v2 REST API and the legacy
// IPN postback verification.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	SandboxAPIBase = "https://api-m.sandbox.paypal.com"
	LiveAPIBase    = "https://api-m.paypal.com"

	SandboxIPNVerifyURL = "https://ipnpb.sandbox.paypal.com/cgi-bin/webscr"
	LiveIPNVerifyURL    = "https://ipnpb.paypal.com/cgi-bin/webscr"

	// requestTimeout bounds every outbound call; settlement never retries
	// internally, the provider's own redelivery is relied upon instead.
	requestTimeout = 15 * time.Second
)

var (
	ErrNoApproveLink  = errors.New("paypal_order_missing_approve_link")
	ErrNoCapture      = errors.New("paypal_capture_missing")
	ErrIPNNotVerified = errors.New("paypal_ipn_not_verified")
)

type Config struct {
	ClientID     string
	ClientSecret string
	APIBase      string
	IPNVerifyURL string
}

type Client struct {
	apiBase      string
	ipnVerifyURL string
	http         *http.Client
	ipnHTTP      *http.Client
}

func NewClient(cfg Config) *Client {
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = SandboxAPIBase
	}
	ipnURL := cfg.IPNVerifyURL
	if ipnURL == "" {
		ipnURL = SandboxIPNVerifyURL
	}

	base := &http.Client{Timeout: requestTimeout}
	oauthCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     apiBase + "/v1/oauth2/token",
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	authed := oauthCfg.Client(ctx)
	authed.Timeout = requestTimeout

	return &Client{
		apiBase:      apiBase,
		ipnVerifyURL: ipnURL,
		http:         authed,
		ipnHTTP:      base,
	}
}

// Order is the subset of the Orders v2 order resource the storefront uses.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Links         []Link         `json:"links"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Amount      *Amount   `json:"amount,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Payments struct {
	Captures []Capture `json:"captures"`
}

type Capture struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	CustomID string  `json:"custom_id,omitempty"`
	Amount   *Amount `json:"amount,omitempty"`
}

// ApproveURL returns the rel=approve link the buyer must be redirected to.
func (o *Order) ApproveURL() (string, error) {
	for _, link := range o.Links {
		if link.Rel == "approve" {
			return link.Href, nil
		}
	}
	return "", ErrNoApproveLink
}

type createOrderRequest struct {
	Intent             string              `json:"intent"`
	PurchaseUnits      []PurchaseUnit      `json:"purchase_units"`
	ApplicationContext *applicationContext `json:"application_context,omitempty"`
}

type applicationContext struct {
	ReturnURL string `json:"return_url,omitempty"`
	CancelURL string `json:"cancel_url,omitempty"`
}

// CreateOrder creates a CAPTURE-intent order. customID carries the internal
// settlement target (INV-<id> or TOPUP-<id>); value is the decimal string
// PayPal expects, e.g. "10.00".
func (c *Client) CreateOrder(ctx context.Context, customID string, value string, currency string, returnURL string, cancelURL string) (*Order, error) {
	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []PurchaseUnit{{
			CustomID: customID,
			Amount:   &Amount{CurrencyCode: currency, Value: value},
		}},
		ApplicationContext: &applicationContext{
			ReturnURL: returnURL,
			CancelURL: cancelURL,
		},
	}

	var order Order
	if err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, fmt.Errorf("paypal order create: empty order id")
	}
	return &order, nil
}

// CaptureOrder captures an approved order and returns the completed order.
// The capture id under purchase_units[0].payments.captures[0] is the
// provider reference settlement records.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID)
	var order Order
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FirstCapture extracts the capture from a captured order.
func (o *Order) FirstCapture() (*Capture, error) {
	if len(o.PurchaseUnits) == 0 {
		return nil, ErrNoCapture
	}
	unit := o.PurchaseUnits[0]
	if unit.Payments == nil || len(unit.Payments.Captures) == 0 {
		return nil, ErrNoCapture
	}
	capture := unit.Payments.Captures[0]
	if capture.ID == "" {
		return nil, ErrNoCapture
	}
	if capture.CustomID == "" {
		capture.CustomID = unit.CustomID
	}
	return &capture, nil
}

func (c *Client) doJSON(ctx context.Context, method string, path string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("paypal %s %s: status %d: %s", method, path, res.StatusCode, truncate(body, 256))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// VerifyIPN performs the synchronous postback PayPal's IPN protocol
// requires: echo the raw payload back prefixed by cmd=_notify-validate and
// accept only the literal body VERIFIED.
func (c *Client) VerifyIPN(ctx context.Context, rawBody []byte) error {
	payload := append([]byte("cmd=_notify-validate&"), rawBody...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ipnVerifyURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.ipnHTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1024))
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(body)) != "VERIFIED" {
		return ErrIPNNotVerified
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
