package incentive

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/incentives", h.ListIncentives)
	api.GET("/appointments/:id/incentive", h.GetSettlement)
}

func (h *Handler) ListIncentives(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.engine.ListIncentives(c.Request().Context(), uid, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	if items == nil {
		items = []*Transfer{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Request().URL))
}

// GetSettlement returns the settlement record of one of the caller's
// appointments, or 204 when none has been attempted.
func (h *Handler) GetSettlement(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.engine.store.GetAppointment(c.Request().Context(), id)
	if errors.Is(err, scheduling.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	if !a.Involves(uid) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	if a.IncentiveTx == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, a.IncentiveTx)
}
