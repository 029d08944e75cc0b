package zarinpal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway records the last decoded body per path and replies with a canned JSON body.
type fakeGateway struct {
	t       *testing.T
	replies map[string]string
	bodies  map[string]map[string]any
	delay   time.Duration
}

func newFakeGateway(t *testing.T) (*fakeGateway, *Client) {
	t.Helper()
	f := &fakeGateway{t: t, replies: map[string]string{}, bodies: map[string]map[string]any{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		MerchantID:  "merchant-1",
		CallbackURL: "https://example.test/payments/verify",
		Timeout:     time.Second,
		BaseURL:     srv.URL + "/pg/v4/payment",
		StartPayURL: "https://sandbox.example.test/pg/StartPay",
	}, nil)
	return f, c
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	var body map[string]any
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	f.bodies[r.URL.Path] = body
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(f.replies[r.URL.Path]))
}

const (
	requestPath = "/pg/v4/payment/request.json"
	verifyPath  = "/pg/v4/payment/verify.json"
)

func TestRequestPayment(t *testing.T) {
	f, c := newFakeGateway(t)
	f.replies[requestPath] = `{"data":{"code":100,"message":"Success","authority":"A000000000000000000000000000123456789","fee_type":"Merchant","fee":0},"errors":[]}`

	res, err := c.RequestPayment(context.Background(), 650000, "registration fee", &Metadata{Mobile: "09121234567"})
	require.NoError(t, err)

	assert.Equal(t, "A000000000000000000000000000123456789", res.Authority)
	assert.Equal(t, "https://sandbox.example.test/pg/StartPay/A000000000000000000000000000123456789", res.PaymentURL)

	sent := f.bodies[requestPath]
	assert.Equal(t, "merchant-1", sent["merchant_id"])
	assert.EqualValues(t, 6500000, sent["amount"], "toman converted to rial")
	assert.Equal(t, "https://example.test/payments/verify", sent["callback_url"])
	assert.Equal(t, map[string]any{"mobile": "09121234567"}, sent["metadata"])
}

func TestRequestPaymentProviderError(t *testing.T) {
	f, c := newFakeGateway(t)
	f.replies[requestPath] = `{"data":[],"errors":{"code":-9,"message":"The input params invalid, validation error.","validations":[]}}`

	_, err := c.RequestPayment(context.Background(), 1000, "fee", nil)
	require.Error(t, err)

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, -9, gwErr.Code)
	assert.Equal(t, "The input params invalid, validation error.", gwErr.Message)
	assert.Equal(t, OpRequest, gwErr.Op)
	assert.ErrorIs(t, err, ErrGateway)
}

func TestRequestPaymentNonSuccessCode(t *testing.T) {
	f, c := newFakeGateway(t)
	f.replies[requestPath] = `{"data":{"code":-12,"message":"Too many attempts"},"errors":[]}`

	_, err := c.RequestPayment(context.Background(), 1000, "fee", nil)

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, -12, gwErr.Code)
	assert.Contains(t, err.Error(), "Too many attempts")
}

func TestVerifyPayment(t *testing.T) {
	tests := []struct {
		name            string
		reply           string
		alreadyVerified bool
	}{
		{"success", `{"data":{"code":100,"message":"Verified","card_hash":"h","card_pan":"610433******1234","ref_id":987654,"fee_type":"Merchant","fee":0},"errors":[]}`, false},
		{"already verified", `{"data":{"code":101,"message":"Verified","card_pan":"610433******1234","ref_id":987654},"errors":[]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, c := newFakeGateway(t)
			f.replies[verifyPath] = tt.reply

			v, err := c.VerifyPayment(context.Background(), "A1", 650000)
			require.NoError(t, err)

			assert.Equal(t, int64(987654), v.RefID)
			assert.Equal(t, "610433******1234", v.CardPan)
			assert.Equal(t, tt.alreadyVerified, v.AlreadyVerified())
			assert.EqualValues(t, 6500000, f.bodies[verifyPath]["amount"])
			assert.Equal(t, "A1", f.bodies[verifyPath]["authority"])
		})
	}
}

func TestVerifyPaymentFailure(t *testing.T) {
	f, c := newFakeGateway(t)
	f.replies[verifyPath] = `{"data":[],"errors":{"code":-51,"message":"Session is not valid, session is not active paid try.","validations":[]}}`

	_, err := c.VerifyPayment(context.Background(), "A1", 650000)

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, OpVerify, gwErr.Op)
	assert.Equal(t, -51, gwErr.Code)
}

func TestGatewayTimeout(t *testing.T) {
	f, c := newFakeGateway(t)
	f.delay = 200 * time.Millisecond
	f.replies[verifyPath] = `{"data":{"code":100,"ref_id":1},"errors":[]}`

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.VerifyPayment(ctx, "A1", 1000)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGateway)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), err.Error())
}

func TestGarbageResponse(t *testing.T) {
	f, c := newFakeGateway(t)
	f.replies[requestPath] = `<html>bad gateway</html>`

	_, err := c.RequestPayment(context.Background(), 1000, "fee", nil)
	assert.ErrorIs(t, err, ErrGateway)
}

func TestEnvironmentURLs(t *testing.T) {
	sandbox := NewClient(Config{Sandbox: true}, nil)
	assert.Equal(t, sandboxAPI, sandbox.baseURL)
	assert.Equal(t, sandboxStartPay, sandbox.startPayURL)

	prod := NewClient(Config{}, nil)
	assert.Equal(t, productionAPI, prod.baseURL)
	assert.Equal(t, productionStartPay, prod.startPayURL)
}
