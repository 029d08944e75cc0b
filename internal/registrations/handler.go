package registrations

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/etekaf/backend/pkg/response"
)

// CreateRequest is the body for POST /registrations.
type CreateRequest struct {
	FirstName    string `json:"first_name" binding:"required"`
	LastName     string `json:"last_name" binding:"required"`
	NationalCode string `json:"national_code" binding:"required"`
	Mobile       string `json:"mobile" binding:"required"`
	BirthDate    string `json:"birth_date" binding:"required"`
	Gender       string `json:"gender" binding:"required"`
	Province     string `json:"province"` // optional when a single venue is configured
	City         string `json:"city"`
	Venue        string `json:"venue"`
}

// Handler handles registration HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a registrations handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Create handles POST /registrations.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	reg, err := h.svc.Create(c.Request.Context(), CreateInput{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		NationalCode: req.NationalCode,
		Mobile:       req.Mobile,
		BirthDate:    req.BirthDate,
		Gender:       req.Gender,
		Province:     req.Province,
		City:         req.City,
		Venue:        req.Venue,
	})
	if err != nil {
		h.writeError(c, err, "failed to register")
		return
	}

	response.Created(c, gin.H{
		"id":             reg.ID,
		"tracking_code":  reg.TrackingCode,
		"payment_amount": reg.PaymentAmount,
	})
}

// Lookup handles GET /registrations/lookup?tracking_code=&mobile=.
func (h *Handler) Lookup(c *gin.Context) {
	code, mobile := c.Query("tracking_code"), c.Query("mobile")
	if code == "" || mobile == "" {
		response.BadRequest(c, "tracking_code and mobile are required")
		return
	}
	reg, err := h.svc.Lookup(c.Request.Context(), code, mobile)
	if err != nil {
		h.writeError(c, err, "failed to load registration")
		return
	}
	response.OK(c, reg.ToPublic())
}

func (h *Handler) writeError(c *gin.Context, err error, internalMsg string) {
	switch {
	case errors.Is(err, ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrConflict):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "registration not found")
	default:
		h.logger.Error(internalMsg, zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, internalMsg)
	}
}
