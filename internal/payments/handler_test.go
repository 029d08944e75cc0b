package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/etekaf/backend/internal/locations"
	"github.com/etekaf/backend/internal/models"
	"github.com/etekaf/backend/internal/registrations"
	"github.com/etekaf/backend/internal/zarinpal"
	"github.com/etekaf/backend/pkg/response"
)

type handlerEnv struct {
	router  *gin.Engine
	store   *registrations.MemoryStore
	gateway *mockGateway
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := registrations.NewMemoryStore()
	regs := registrations.NewService(store, locations.Default(), testAmount, nil, nil)
	_, err := regs.Create(context.Background(), registrations.CreateInput{
		FirstName:    "Ali",
		LastName:     "Rezaei",
		NationalCode: testNational,
		Mobile:       testMobile,
		BirthDate:    "1995-03-21",
		Gender:       models.GenderMale,
	})
	require.NoError(t, err)

	gw := new(mockGateway)
	svc := NewService(store, gw, &localLocker{}, nil, Config{GatewayTimeout: time.Second}, nil, nil)
	h := NewHandler(svc, Redirects{
		SuccessURL: "https://etekaf.example/success",
		FailureURL: "https://etekaf.example/failed?lang=fa",
	}, nil)

	r := gin.New()
	r.POST("/payments/request", h.Request)
	r.POST("/payments/retry", h.Retry)
	r.GET("/payments/verify", h.Verify)
	return &handlerEnv{router: r, store: store, gateway: gw}
}

func (e *handlerEnv) post(t *testing.T, path string, body any) (*httptest.ResponseRecorder, response.Body) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var out response.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func (e *handlerEnv) callback(t *testing.T, authority, status string) *url.URL {
	t.Helper()
	q := url.Values{"Authority": {authority}, "Status": {status}}
	req := httptest.NewRequest(http.MethodGet, "/payments/verify?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	return loc
}

func (e *handlerEnv) initiate(t *testing.T) {
	t.Helper()
	e.gateway.On("RequestPayment", mock.Anything, testAmount, mock.Anything, mock.Anything).
		Return(&zarinpal.PaymentRequest{Authority: testAuthority, PaymentURL: "https://sandbox.zarinpal.com/pg/StartPay/" + testAuthority}, nil).Once()
	w, body := e.post(t, "/payments/request", map[string]any{"national_code": testNational, "mobile": testMobile})
	require.Equal(t, http.StatusOK, w.Code)
	data := body.Data.(map[string]any)
	assert.Equal(t, "https://sandbox.zarinpal.com/pg/StartPay/"+testAuthority, data["payment_url"])
}

func TestHandlerRequestErrors(t *testing.T) {
	e := newHandlerEnv(t)

	w, _ := e.post(t, "/payments/request", map[string]any{"national_code": testNational})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.post(t, "/payments/request", map[string]any{"national_code": "1234567890", "mobile": testMobile})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.post(t, "/payments/request", map[string]any{"national_code": "0000000019", "mobile": testMobile})
	assert.Equal(t, http.StatusNotFound, w.Code)

	e.gateway.On("RequestPayment", mock.Anything, testAmount, mock.Anything, mock.Anything).
		Return(nil, &zarinpal.GatewayError{Op: zarinpal.OpRequest, Code: -10, Message: "terminal is not valid"}).Once()
	w, body := e.post(t, "/payments/request", map[string]any{"national_code": testNational, "mobile": testMobile})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "terminal is not valid", body.Error)
}

func TestHandlerVerifySuccess(t *testing.T) {
	e := newHandlerEnv(t)
	e.initiate(t)
	e.gateway.On("VerifyPayment", mock.Anything, testAuthority, testAmount).
		Return(&zarinpal.Verification{Code: zarinpal.CodeSuccess, RefID: 987654, CardPan: "610433******1234"}, nil).Once()

	loc := e.callback(t, testAuthority, StatusOK)
	assert.Equal(t, "etekaf.example", loc.Host)
	assert.Equal(t, "/success", loc.Path)
	assert.Equal(t, "987654", loc.Query().Get("refId"))
	assert.NotEmpty(t, loc.Query().Get("trackingCode"))

	// Duplicate delivery lands on the same page.
	again := e.callback(t, testAuthority, StatusOK)
	assert.Equal(t, loc.String(), again.String())
	e.gateway.AssertNumberOfCalls(t, "VerifyPayment", 1)
}

func TestHandlerVerifyFailure(t *testing.T) {
	e := newHandlerEnv(t)
	e.initiate(t)

	loc := e.callback(t, testAuthority, "NOK")
	assert.Equal(t, "/failed", loc.Path)
	assert.Equal(t, "fa", loc.Query().Get("lang"))
	assert.Equal(t, ErrCancelled.Error(), loc.Query().Get("error"))

	loc = e.callback(t, "unknown", StatusOK)
	assert.Equal(t, "/failed", loc.Path)
	assert.Equal(t, "payment not found", loc.Query().Get("error"))
}

func TestHandlerRetry(t *testing.T) {
	e := newHandlerEnv(t)
	e.initiate(t)
	e.callback(t, testAuthority, "NOK")

	const next = "A000000000000000000000000000333333333"
	e.gateway.On("RequestPayment", mock.Anything, testAmount, mock.Anything, mock.Anything).
		Return(&zarinpal.PaymentRequest{Authority: next, PaymentURL: "https://sandbox.zarinpal.com/pg/StartPay/" + next}, nil).Once()
	w, body := e.post(t, "/payments/retry", map[string]any{"national_code": testNational, "mobile": testMobile})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, next, body.Data.(map[string]any)["authority"])
}

func TestHandlerVerifyReplacedAuthority(t *testing.T) {
	e := newHandlerEnv(t)
	e.initiate(t)
	reg, err := e.store.FindPending(context.Background(), testNational, testMobile)
	require.NoError(t, err)

	e.gateway.On("VerifyPayment", mock.Anything, testAuthority, testAmount).
		Run(func(mock.Arguments) {
			require.NoError(t, e.store.SetAuthority(context.Background(), reg.ID, "A000000000000000000000000000555555555"))
		}).
		Return(&zarinpal.Verification{Code: zarinpal.CodeSuccess, RefID: 987654}, nil).Once()

	loc := e.callback(t, testAuthority, StatusOK)
	assert.Equal(t, "/failed", loc.Path)
	assert.Equal(t, "payment received but not applied, contact support", loc.Query().Get("error"))
	assert.Empty(t, loc.Query().Get("trackingCode"))
}
