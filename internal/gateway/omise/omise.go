// Package omise is a minimal client for the Omise payments API: card
// tokenization on the vault endpoint and charges on the API endpoint.
package omise

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/payment"
)

const (
	DefaultAPIURL   = "https://api.omise.co"
	DefaultVaultURL = "https://vault.omise.co"

	service = "omise"

	// maxResponse bounds how much of a response body is read.
	maxResponse = 1 << 20
)

// Config configures the Omise client.
type Config struct {
	PublicKey string
	SecretKey string
	APIURL    string
	VaultURL  string
	// Currency is the ISO 4217 code of every charge, lowercase.
	Currency string
	// Timeout bounds each API call.
	Timeout time.Duration
}

var _ payment.Gateway = (*Client)(nil)

// Client implements payment.Gateway against the Omise REST API.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a Client. A nil transport uses an instrumented default transport.
func New(cfg Config, transport http.RoundTripper) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.VaultURL == "" {
		cfg.VaultURL = DefaultVaultURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "thb"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

// APIError is an error object returned by Omise.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("omise %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// CreateToken exchanges card details for a single-use token. Card data goes
// only to the vault endpoint.
func (c *Client) CreateToken(ctx context.Context, card payment.Card) (*payment.CardToken, error) {
	form := url.Values{
		"card[name]":             {card.Name},
		"card[number]":           {card.Number},
		"card[expiration_month]": {strconv.Itoa(card.ExpirationMonth)},
		"card[expiration_year]":  {strconv.Itoa(card.ExpirationYear)},
		"card[security_code]":    {card.SecurityCode},
	}

	body, err := c.do(ctx, http.MethodPost, c.cfg.VaultURL+"/tokens", c.cfg.PublicKey, form)
	if err != nil {
		return nil, rejected(err, "card")
	}

	tok, err := decodeToken(body)
	if err != nil {
		return nil, apperr.Upstream(service, errors.Wrap(err, "decode token"))
	}
	return tok, nil
}

// CreateCharge charges a token. Amount is in the smallest currency unit.
func (c *Client) CreateCharge(ctx context.Context, in payment.ChargeInput) (*payment.Charge, error) {
	form := url.Values{
		"amount":   {strconv.FormatInt(in.Amount, 10)},
		"currency": {c.cfg.Currency},
		"card":     {in.Token},
	}
	if in.Description != "" {
		form.Set("description", in.Description)
	}
	for k, v := range in.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	body, err := c.do(ctx, http.MethodPost, c.cfg.APIURL+"/charges", c.cfg.SecretKey, form)
	if err != nil {
		return nil, rejected(err, "card")
	}
	ch, err := decodeCharge(body)
	if err != nil {
		return nil, apperr.Upstream(service, errors.Wrap(err, "decode charge"))
	}
	return ch, nil
}

// RetrieveCharge returns the current state of a charge.
func (c *Client) RetrieveCharge(ctx context.Context, id string) (*payment.Charge, error) {
	body, err := c.do(ctx, http.MethodGet, c.cfg.APIURL+"/charges/"+url.PathEscape(id), c.cfg.SecretKey, nil)
	if err != nil {
		// The id was issued by Omise, so any error response is on its side.
		return nil, rejected(err, "")
	}
	ch, err := decodeCharge(body)
	if err != nil {
		return nil, apperr.Upstream(service, errors.Wrap(err, "decode charge"))
	}
	return ch, nil
}

// rejected maps a 4xx *APIError to INVALID_INPUT on field, or to
// UPSTREAM_UNAVAILABLE when field is empty. Other errors are already
// classified by do.
func rejected(err error, field string) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if field == "" {
		return apperr.Upstream(service, err)
	}
	return apperr.InvalidField(field, apiErr.Message)
}

// do sends an authenticated request. Transport failures, auth failures and
// 5xx responses are UPSTREAM_UNAVAILABLE; other error responses are returned
// as *APIError.
func (c *Client) do(ctx context.Context, method, endpoint, key string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.SetBasicAuth(key, "")
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Upstream(service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, apperr.Upstream(service, errors.Wrap(err, "read response"))
	}

	if resp.StatusCode >= 400 {
		apiErr := decodeError(data)
		apiErr.StatusCode = resp.StatusCode
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, apperr.Upstream(service, apiErr)
		}
		return nil, apiErr
	}
	return data, nil
}

func decodeToken(data []byte) (*payment.CardToken, error) {
	var tok payment.CardToken
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			v, err := d.Str()
			tok.ID = v
			return err
		case "card":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "brand":
					v, err := optStr(d)
					tok.Brand = v
					return err
				case "last_digits":
					v, err := optStr(d)
					tok.LastDigits = v
					return err
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	if tok.ID == "" {
		return nil, errors.New("token without id")
	}
	return &tok, nil
}

func decodeCharge(data []byte) (*payment.Charge, error) {
	var (
		ch     payment.Charge
		status string
	)
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			ch.ID, err = d.Str()
		case "amount":
			ch.Amount, err = d.Int64()
		case "status":
			status, err = d.Str()
		case "paid":
			ch.Paid, err = d.Bool()
		case "failure_code":
			ch.FailureCode, err = optStr(d)
		case "failure_message":
			ch.FailureMessage, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if ch.ID == "" {
		return nil, errors.New("charge without id")
	}
	ch.Status = chargeStatus(status, ch.Paid)
	return &ch, nil
}

// chargeStatus maps Omise charge states onto the three outcomes the payment
// flow distinguishes. Expired and reversed charges did not collect money.
func chargeStatus(s string, paid bool) payment.ChargeStatus {
	switch {
	case paid || s == "successful":
		return payment.ChargeSuccessful
	case s == "failed", s == "expired", s == "reversed":
		return payment.ChargeFailed
	default:
		return payment.ChargePending
	}
}

func decodeError(data []byte) *APIError {
	e := &APIError{}
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		e.Message = string(bytes.TrimSpace(data))
		return e
	}
	_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			e.Code, err = optStr(d)
		case "message":
			e.Message, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return e
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
