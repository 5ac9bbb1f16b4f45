// README: Rider-facing handlers: request, view, watch, OTP, confirm, cancel.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridewise/internal/modules/lifecycle"
	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

type RideHandler struct {
	lifecycle *lifecycle.Service
	logger    *slog.Logger
}

func NewRideHandler(svc *lifecycle.Service, logger *slog.Logger) *RideHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RideHandler{lifecycle: svc, logger: logger}
}

type requestRideReq struct {
	RiderName          string       `json:"rider_name"`
	Origin             *types.Point `json:"origin" binding:"required"`
	Destination        *types.Point `json:"destination" binding:"required"`
	OriginAddress      string       `json:"origin_address"`
	DestinationAddress string       `json:"destination_address"`
}

func (h *RideHandler) Request(c *gin.Context) {
	var req requestRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "origin and destination required")
		return
	}
	r, err := h.lifecycle.Request(c.Request.Context(), lifecycle.RequestCommand{
		RiderID:            callerID(c),
		RiderName:          req.RiderName,
		Origin:             *req.Origin,
		Destination:        *req.Destination,
		OriginAddress:      req.OriginAddress,
		DestinationAddress: req.DestinationAddress,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	r, err := h.lifecycle.Get(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

// Watch upgrades to a websocket and streams the ride until it is retired.
func (h *RideHandler) Watch(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	uid := callerID(c)
	streamChanges(c, h.logger, true, func(ctx context.Context) (<-chan ride.Change, error) {
		return h.lifecycle.Watch(ctx, id, uid)
	})
}

func (h *RideHandler) OTP(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	code, err := h.lifecycle.RiderOTP(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"otp": code})
}

type confirmReq struct {
	Rating *int `json:"rating"`
}

func (h *RideHandler) Confirm(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	var req confirmReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	r, err := h.lifecycle.Confirm(c.Request.Context(), lifecycle.ConfirmCommand{RideID: id, RiderID: callerID(c), Rating: req.Rating})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	r, err := h.lifecycle.Cancel(c.Request.Context(), lifecycle.CancelCommand{RideID: id, ActorID: callerID(c)})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": r.ID, "status": r.Status})
}
