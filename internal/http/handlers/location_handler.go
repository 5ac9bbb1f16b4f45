// README: Driver availability and position handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridewise/internal/modules/dispatch"
	"ridewise/internal/modules/location"
	"ridewise/internal/types"
)

type LocationHandler struct {
	dispatch *dispatch.Service
}

func NewLocationHandler(svc *dispatch.Service) *LocationHandler {
	return &LocationHandler{dispatch: svc}
}

type availabilityReq struct {
	Status   location.AvailabilityStatus `json:"status" binding:"required"`
	Position *types.Point                `json:"position"`
}

func (h *LocationHandler) Get(c *gin.Context) {
	a, err := h.dispatch.Availability(c.Request.Context(), callerID(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}

func (h *LocationHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "status required")
		return
	}
	if req.Status != location.StatusAvailable && req.Status != location.StatusUnavailable {
		writeError(c, http.StatusBadRequest, "status must be available or unavailable")
		return
	}
	a, err := h.dispatch.SetAvailability(c.Request.Context(), dispatch.SetAvailabilityCommand{
		DriverID: callerID(c),
		Status:   req.Status,
		Position: req.Position,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}

// UpdatePosition moves the driver in the availability store and dispatch index.
func (h *LocationHandler) UpdatePosition(c *gin.Context) {
	var p types.Point
	if err := c.ShouldBindJSON(&p); err != nil || !p.Valid() {
		writeError(c, http.StatusBadRequest, "invalid position")
		return
	}
	if err := h.dispatch.UpdateDriverPosition(c.Request.Context(), callerID(c), p); err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
