// README: Operator handlers: recover rejected rides, verify drivers, audit announcements.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridewise/internal/modules/dispatch"
	"ridewise/internal/types"
)

type AdminHandler struct {
	dispatch *dispatch.Service
}

func NewAdminHandler(svc *dispatch.Service) *AdminHandler {
	return &AdminHandler{dispatch: svc}
}

func (h *AdminHandler) ResetRejected(c *gin.Context) {
	n, err := h.dispatch.ResetRejected(c.Request.Context())
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"reset": n})
}

// Notified lists the drivers a ride was announced to.
func (h *AdminHandler) Notified(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	ids, err := h.dispatch.NotifiedDrivers(c.Request.Context(), id)
	if err != nil {
		writeRideError(c, err)
		return
	}
	if ids == nil {
		ids = []types.ID{}
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "drivers": ids})
}

type verifyDriverReq struct {
	Verified *bool `json:"verified" binding:"required"`
}

func (h *AdminHandler) SetVerified(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	var req verifyDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "verified required")
		return
	}
	a, err := h.dispatch.SetVerified(c.Request.Context(), types.ID(id), *req.Verified)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}
