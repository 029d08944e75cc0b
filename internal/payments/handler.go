package payments

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/etekaf/backend/internal/registrations"
	"github.com/etekaf/backend/internal/zarinpal"
	"github.com/etekaf/backend/pkg/response"
)

// Redirects are the frontend pages the payer lands on after the gateway callback.
type Redirects struct {
	SuccessURL string
	FailureURL string
}

// InitiateRequest is the body for POST /payments/request and /payments/retry.
type InitiateRequest struct {
	NationalCode string `json:"national_code" binding:"required"`
	Mobile       string `json:"mobile" binding:"required"`
	Amount       int64  `json:"amount"`
}

// Handler handles payment HTTP endpoints.
type Handler struct {
	svc       *Service
	redirects Redirects
	logger    *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(svc *Service, redirects Redirects, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, redirects: redirects, logger: logger}
}

// Request handles POST /payments/request.
func (h *Handler) Request(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	attempt, err := h.svc.InitiatePayment(c.Request.Context(), req.NationalCode, req.Mobile, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, attempt)
}

// Retry handles POST /payments/retry.
func (h *Handler) Retry(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	attempt, err := h.svc.RetryPayment(c.Request.Context(), req.NationalCode, req.Mobile)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, attempt)
}

// Verify handles GET /payments/verify?Authority=&Status=, the gateway's browser callback.
// It always answers with a redirect to the success or failure page.
func (h *Handler) Verify(c *gin.Context) {
	authority, status := c.Query("Authority"), c.Query("Status")

	reg, err := h.svc.HandleCallback(c.Request.Context(), authority, status)
	if err != nil {
		h.logger.Info("payment callback rejected",
			zap.String("authority", authority),
			zap.String("status", status),
			zap.Error(err))
		c.Redirect(http.StatusFound, withQuery(h.redirects.FailureURL, url.Values{"error": {callbackMessage(err)}}))
		return
	}

	q := url.Values{"trackingCode": {reg.TrackingCode}}
	if reg.PaymentRefID != nil {
		q.Set("refId", strconv.FormatInt(*reg.PaymentRefID, 10))
	}
	c.Redirect(http.StatusFound, withQuery(h.redirects.SuccessURL, q))
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var gwErr *zarinpal.GatewayError
	switch {
	case errors.Is(err, registrations.ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, registrations.ErrConflict):
		response.Conflict(c, err.Error())
	case errors.Is(err, registrations.ErrNotFound):
		response.NotFound(c, "no pending registration found")
	case errors.As(err, &gwErr):
		response.BadGateway(c, gwErr.Message)
	default:
		h.logger.Error("payment request failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, "failed to start payment")
	}
}

// callbackMessage is the text shown on the failure page. Internal details stay in the log.
func callbackMessage(err error) string {
	var gwErr *zarinpal.GatewayError
	switch {
	case errors.Is(err, ErrCancelled):
		return ErrCancelled.Error()
	case errors.Is(err, ErrSuperseded):
		return "payment received but not applied, contact support"
	case errors.As(err, &gwErr):
		return "payment verification failed: " + gwErr.Message
	case errors.Is(err, registrations.ErrValidation), errors.Is(err, registrations.ErrNotFound):
		return "payment not found"
	default:
		return "payment could not be processed"
	}
}

func withQuery(base string, q url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + q.Encode()
	}
	existing := u.Query()
	for k, v := range q {
		existing[k] = v
	}
	u.RawQuery = existing.Encode()
	return u.String()
}
