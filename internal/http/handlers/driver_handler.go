// README: Driver handlers: open requests, claim, reject, OTP, drop-off, location, guidance.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridewise/internal/modules/dispatch"
	"ridewise/internal/modules/lifecycle"
	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

type DriverHandler struct {
	dispatch  *dispatch.Service
	lifecycle *lifecycle.Service
	logger    *slog.Logger
}

func NewDriverHandler(dispatchSvc *dispatch.Service, lifecycleSvc *lifecycle.Service, logger *slog.Logger) *DriverHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriverHandler{dispatch: dispatchSvc, lifecycle: lifecycleSvc, logger: logger}
}

type openRequestResp struct {
	Ride             *ride.RideRequest `json:"ride"`
	PickupDistanceKm float64           `json:"pickup_distance_km"`
}

func (h *DriverHandler) ListOpen(c *gin.Context) {
	at, ok := pointQuery(c)
	if !ok {
		return
	}
	open, err := h.dispatch.OpenRequestsForDriver(c.Request.Context(), callerID(c), at)
	if err != nil {
		writeRideError(c, err)
		return
	}
	out := make([]openRequestResp, 0, len(open))
	for _, o := range open {
		out = append(out, openRequestResp{Ride: lifecycle.ViewFor(o.Ride, callerID(c)), PickupDistanceKm: o.PickupDistanceKm})
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": out})
}

func (h *DriverHandler) WatchOpen(c *gin.Context) {
	at, ok := pointQuery(c)
	if !ok {
		return
	}
	uid := callerID(c)
	streamChanges(c, h.logger, false, func(ctx context.Context) (<-chan ride.Change, error) {
		in, err := h.dispatch.WatchOpenRequests(ctx, uid, at)
		if err != nil {
			return nil, err
		}
		out := make(chan ride.Change)
		go func() {
			defer close(out)
			for ch := range in {
				if ch.Ride != nil {
					ch.Ride = lifecycle.ViewFor(ch.Ride, uid)
				}
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	})
}

type claimReq struct {
	DriverName  string        `json:"driver_name" binding:"required"`
	DriverPhone string        `json:"driver_phone"`
	Vehicle     *ride.Vehicle `json:"vehicle"`
	Location    *types.Point  `json:"location"`
}

func (h *DriverHandler) Claim(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	var req claimReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "driver_name required")
		return
	}
	uid := callerID(c)
	r, err := h.dispatch.Claim(c.Request.Context(), dispatch.ClaimCommand{
		RideID: id,
		Driver: dispatch.DriverProfile{
			ID:       uid,
			Name:     req.DriverName,
			Phone:    req.DriverPhone,
			Vehicle:  req.Vehicle,
			Location: req.Location,
		},
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, lifecycle.ViewFor(r, uid))
}

func (h *DriverHandler) Reject(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	r, err := h.dispatch.Reject(c.Request.Context(), dispatch.RejectCommand{RideID: id, DriverID: callerID(c)})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": r.ID, "status": r.Status})
}

type verifyOTPReq struct {
	Code string `json:"code" binding:"required"`
}

func (h *DriverHandler) VerifyOTP(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	var req verifyOTPReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "code required")
		return
	}
	r, err := h.lifecycle.VerifyOTP(c.Request.Context(), lifecycle.VerifyOTPCommand{RideID: id, DriverID: callerID(c), Code: req.Code})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": r, "target": lifecycle.TargetFor(r)})
}

func (h *DriverHandler) Dropoff(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	r, err := h.lifecycle.DeclareDropoff(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	var p types.Point
	if err := c.ShouldBindJSON(&p); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.lifecycle.UpdateDriverLocation(c.Request.Context(), id, callerID(c), p); err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (h *DriverHandler) Target(c *gin.Context) {
	id, ok := rideParam(c)
	if !ok {
		return
	}
	target, err := h.lifecycle.RouteTarget(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, target)
}
