package identify

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/routes/apierror"
)

var validate = validator.New()

// Identifier reconciles one contact observation.
type Identifier interface {
	Identify(ctx context.Context, email, phone string) (models.Summary, error)
}

type Handler struct {
	service Identifier
	logger  ectologger.Logger
}

func NewHandler(service Identifier, logger ectologger.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers identify routes
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/identify", h.Identify)
}

// Identify links the request to an identity cluster and returns the consolidated contact
func (h *Handler) Identify(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.IdentifyRequest
	if err := c.Bind(&req); err != nil {
		h.logger.WithContext(ctx).WithError(err).Debug("Failed to bind identify request")
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid request: %s", err.Error())
	}

	email, phone := req.Values()
	summary, err := h.service.Identify(ctx, email, phone)
	if err != nil {
		return apierror.FromIdentity(err, http.StatusInternalServerError)
	}

	return c.JSON(http.StatusOK, models.IdentifyResponse{Contact: summary})
}
