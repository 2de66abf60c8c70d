package root

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Info struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// RegisterRoutes registers GET / returning service information
func RegisterRoutes(e *echo.Echo, name, version string) {
	info := Info{Message: name, Version: version}
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, info)
	})
}
