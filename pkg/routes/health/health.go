package health

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Register registers health routes
func Register(g *echo.Group) {
	g.GET("", Get)
}

// Get reports service liveness
func Get(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
