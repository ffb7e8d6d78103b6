package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetLatestProfile returns the caller's psychometric profile.
// GET /api/latest-psych-profile
func (h *Handler) GetLatestProfile(c echo.Context) error {
	profile, err := h.service.LatestProfile(c.Request().Context(), identity(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}
