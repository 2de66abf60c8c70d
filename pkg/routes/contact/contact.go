package contact

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/apierror"
)

// Reader returns the consolidated view of the cluster holding a contact.
type Reader interface {
	GetContact(ctx context.Context, id int64) (models.Summary, error)
}

type Handler struct {
	service Reader
}

func NewHandler(service Reader) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers contact routes
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/contacts/:id", h.GetContact)
}

// GetContact returns the consolidated contact for any contact id in a cluster
func (h *Handler) GetContact(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "contact id must be a positive integer")
	}

	summary, err := h.service.GetContact(c.Request().Context(), id)
	if err != nil {
		return apierror.FromIdentity(err, http.StatusNotFound)
	}

	return c.JSON(http.StatusOK, models.IdentifyResponse{Contact: summary})
}
