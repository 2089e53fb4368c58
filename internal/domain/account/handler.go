package account

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me", h.GetMe)
	api.GET("/doctors/:doctorId", h.GetDoctor)
	api.GET("/doctors/:doctorId/availability", h.GetAvailability)
	api.PUT("/me/availability", h.SetAvailability, auth.RequireRole(auth.RoleDoctor))
	api.PUT("/me/wallet", h.SetWallet)
}

func toHTTP(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func (h *Handler) GetMe(c echo.Context) error {
	a, err := h.svc.GetAccount(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

// doctorView hides contact details from other users.
type doctorView struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Availability *AvailabilityRule `json:"availability,omitempty"`
}

func (h *Handler) GetDoctor(c echo.Context) error {
	doc, err := h.svc.GetDoctor(c.Request().Context(), c.Param("doctorId"))
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, doctorView{ID: doc.ID, Name: doc.Name, Availability: doc.Availability})
}

func (h *Handler) GetAvailability(c echo.Context) error {
	rule, err := h.svc.GetAvailability(c.Request().Context(), c.Param("doctorId"))
	if err != nil {
		return toHTTP(err)
	}
	if rule == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, rule)
}

func (h *Handler) SetAvailability(c echo.Context) error {
	var rule AvailabilityRule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid := auth.UserIDFromContext(c.Request().Context())
	saved, err := h.svc.SetAvailability(c.Request().Context(), uid, uid, rule)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusOK, saved)
}

type walletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

func (h *Handler) SetWallet(c echo.Context) error {
	var req walletRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.SetWallet(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), req.WalletAddress); err != nil {
		return toHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
