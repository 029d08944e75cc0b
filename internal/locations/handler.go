package locations

import (
	"github.com/gin-gonic/gin"

	"github.com/etekaf/backend/pkg/response"
)

// Handler serves the location catalog.
type Handler struct {
	catalog *Catalog
}

// NewHandler creates a locations handler.
func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// List handles GET /locations.
func (h *Handler) List(c *gin.Context) {
	response.OK(c, h.catalog)
}
