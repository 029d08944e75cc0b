package zarinpal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/etekaf/backend/internal/zarinpal")

const (
	productionAPI      = "https://api.zarinpal.com/pg/v4/payment/"
	sandboxAPI         = "https://sandbox.zarinpal.com/pg/v4/payment/"
	productionStartPay = "https://www.zarinpal.com/pg/StartPay/"
	sandboxStartPay    = "https://sandbox.zarinpal.com/pg/StartPay/"

	// CodeSuccess is returned by request and verify on success.
	CodeSuccess = 100
	// CodeAlreadyVerified is returned by verify when the authority was verified before.
	CodeAlreadyVerified = 101

	// rialsPerToman converts the store's Toman amounts to the gateway's Rials.
	rialsPerToman = 10

	maxResponseBytes = 1 << 20
)

// Config selects the gateway environment and merchant.
type Config struct {
	MerchantID  string
	Sandbox     bool
	CallbackURL string
	Timeout     time.Duration
	// BaseURL and StartPayURL override the environment defaults (tests, proxies).
	BaseURL     string
	StartPayURL string
}

// Metadata is optional payer information attached to a payment request.
type Metadata struct {
	Mobile string `json:"mobile,omitempty"`
	Email  string `json:"email,omitempty"`
}

// PaymentRequest is the result of a successful request call.
type PaymentRequest struct {
	Authority  string
	PaymentURL string
}

// Verification is the result of a successful verify call.
type Verification struct {
	Code    int
	RefID   int64
	CardPan string
}

// AlreadyVerified reports whether the gateway had verified this authority before.
func (v *Verification) AlreadyVerified() bool {
	return v.Code == CodeAlreadyVerified
}

// Client talks to the Zarinpal v4 payment API. Amounts in and out are Toman.
type Client struct {
	cfg         Config
	baseURL     string
	startPayURL string
	http        *http.Client
	logger      *zap.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base, startPay := productionAPI, productionStartPay
	if cfg.Sandbox {
		base, startPay = sandboxAPI, sandboxStartPay
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if cfg.StartPayURL != "" {
		startPay = cfg.StartPayURL
	}
	return &Client{
		cfg:         cfg,
		baseURL:     strings.TrimSuffix(base, "/") + "/",
		startPayURL: strings.TrimSuffix(startPay, "/") + "/",
		http:        &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}
}

type requestBody struct {
	MerchantID  string    `json:"merchant_id"`
	Amount      int64     `json:"amount"`
	CallbackURL string    `json:"callback_url"`
	Description string    `json:"description"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

type verifyBody struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

// envelope is the v4 response shape. On failure "data" is an empty array and
// "errors" an object, so both are decoded lazily.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type resultData struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Authority string `json:"authority"`
	CardPan   string `json:"card_pan"`
	CardHash  string `json:"card_hash"`
	RefID     int64  `json:"ref_id"`
	FeeType   string `json:"fee_type"`
	Fee       int64  `json:"fee"`
}

type errorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RequestPayment asks the gateway for a payment authority and the URL to send the payer to.
func (c *Client) RequestPayment(ctx context.Context, amount int64, description string, meta *Metadata) (*PaymentRequest, error) {
	if amount <= 0 {
		return nil, &GatewayError{Op: OpRequest, Message: "amount must be positive"}
	}
	body := requestBody{
		MerchantID:  c.cfg.MerchantID,
		Amount:      amount * rialsPerToman,
		CallbackURL: c.cfg.CallbackURL,
		Description: description,
		Metadata:    meta,
	}
	data, err := c.post(ctx, OpRequest, "request.json", body)
	if err != nil {
		return nil, err
	}
	if data.Code != CodeSuccess {
		return nil, &GatewayError{Op: OpRequest, Code: data.Code, Message: data.Message}
	}
	if data.Authority == "" {
		return nil, &GatewayError{Op: OpRequest, Code: data.Code, Message: "gateway returned no authority"}
	}
	c.logger.Info("payment authority issued", zap.String("authority", data.Authority), zap.Int64("amount", amount))
	return &PaymentRequest{
		Authority:  data.Authority,
		PaymentURL: c.startPayURL + data.Authority,
	}, nil
}

// VerifyPayment confirms a payment. Code 101 (already verified) is treated as success.
func (c *Client) VerifyPayment(ctx context.Context, authority string, amount int64) (*Verification, error) {
	body := verifyBody{
		MerchantID: c.cfg.MerchantID,
		Amount:     amount * rialsPerToman,
		Authority:  authority,
	}
	data, err := c.post(ctx, OpVerify, "verify.json", body)
	if err != nil {
		return nil, err
	}
	if data.Code != CodeSuccess && data.Code != CodeAlreadyVerified {
		return nil, &GatewayError{Op: OpVerify, Code: data.Code, Message: data.Message}
	}
	if data.Code == CodeAlreadyVerified {
		c.logger.Warn("payment already verified", zap.String("authority", authority), zap.Int64("ref_id", data.RefID))
	}
	return &Verification{Code: data.Code, RefID: data.RefID, CardPan: data.CardPan}, nil
}

func (c *Client) post(ctx context.Context, op, path string, payload any) (*resultData, error) {
	ctx, span := tracer.Start(ctx, "zarinpal."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("zarinpal.endpoint", c.baseURL+path)))
	defer span.End()

	data, err := c.do(ctx, op, path, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway call failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("zarinpal.code", data.Code))
	return data, nil
}

func (c *Client) do(ctx context.Context, op, path string, payload any) (*resultData, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Op: op, Message: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, &GatewayError{Op: op, Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, &GatewayError{Op: op, Message: "gateway timed out", Err: err}
		}
		return nil, &GatewayError{Op: op, Message: "gateway unreachable", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &GatewayError{Op: op, Message: "read response", Err: err}
	}
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, &GatewayError{Op: op, Message: fmt.Sprintf("unexpected response (status %d)", resp.StatusCode), Err: err}
	}

	var data resultData
	if isObject(env.Data) {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, &GatewayError{Op: op, Message: "decode response data", Err: err}
		}
		return &data, nil
	}
	var gwErr errorData
	if isObject(env.Errors) {
		_ = json.Unmarshal(env.Errors, &gwErr)
	}
	if gwErr.Code == 0 && gwErr.Message == "" {
		gwErr.Message = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
	}
	return nil, &GatewayError{Op: op, Code: gwErr.Code, Message: gwErr.Message}
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
