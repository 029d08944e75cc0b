package dashboard

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/etekaf/backend/internal/models"
	"github.com/etekaf/backend/internal/registrations"
	"github.com/etekaf/backend/pkg/response"
	"github.com/etekaf/backend/pkg/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Reader is the read side of the registration store.
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	List(ctx context.Context, f models.RegistrationFilter) ([]models.Registration, int, error)
	Stats(ctx context.Context) (*models.RegistrationStats, error)
}

// ReceiptLinker signs download links for archived receipts.
type ReceiptLinker interface {
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

// Handler serves the admin dashboard.
type Handler struct {
	regs     Reader
	receipts ReceiptLinker
	logger   *zap.Logger
}

// NewHandler creates a dashboard handler. receipts may be nil when no bucket is configured.
func NewHandler(regs Reader, receipts ReceiptLinker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{regs: regs, receipts: receipts, logger: logger}
}

// List handles GET /admin/registrations?status=&q=&limit=&offset=.
func (h *Handler) List(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	list, total, err := h.regs.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list registrations failed", zap.Error(err))
		response.Internal(c, "failed to list registrations")
		return
	}
	if list == nil {
		list = []models.Registration{}
	}
	response.Page(c, list, response.Meta{Total: total, Limit: f.Limit, Offset: f.Offset})
}

// Stats handles GET /admin/stats.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.regs.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("registration stats failed", zap.Error(err))
		response.Internal(c, "failed to load stats")
		return
	}
	response.OK(c, stats)
}

// Get handles GET /admin/registrations/:id.
func (h *Handler) Get(c *gin.Context) {
	reg, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, reg)
}

// Receipt handles GET /admin/registrations/:id/receipt and returns a signed download URL.
func (h *Handler) Receipt(c *gin.Context) {
	if h.receipts == nil {
		response.ServiceUnavailable(c, "receipt storage is not configured")
		return
	}
	reg, ok := h.load(c)
	if !ok {
		return
	}
	if reg.PaymentStatus != models.PaymentStatusPaid {
		response.NotFound(c, "registration is not paid")
		return
	}
	ctx := c.Request.Context()
	key := storage.ReceiptKey(reg.TrackingCode)
	exists, err := h.receipts.Exists(ctx, key)
	if err != nil {
		h.logger.Error("receipt lookup failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "failed to load receipt")
		return
	}
	if !exists {
		response.NotFound(c, "receipt not archived yet")
		return
	}
	url, err := h.receipts.PresignGet(ctx, key)
	if err != nil {
		h.logger.Error("presign receipt failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "failed to sign receipt url")
		return
	}
	response.OK(c, gin.H{"url": url, "key": key})
}

func (h *Handler) load(c *gin.Context) (*models.Registration, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return nil, false
	}
	reg, err := h.regs.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, registrations.ErrNotFound) {
			response.NotFound(c, "registration not found")
			return nil, false
		}
		h.logger.Error("load registration failed", zap.Error(err))
		response.Internal(c, "failed to load registration")
		return nil, false
	}
	return reg, true
}

func parseFilter(c *gin.Context) (models.RegistrationFilter, error) {
	f := models.RegistrationFilter{
		Status: models.PaymentStatus(strings.ToLower(c.Query("status"))),
		Search: strings.TrimSpace(c.Query("q")),
		Limit:  defaultLimit,
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, errors.New("status must be pending, paid or failed")
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(n, maxLimit)
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}
