// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridewise/internal/http/middleware"
	"ridewise/internal/maps"
	"ridewise/internal/modules/history"
	"ridewise/internal/modules/location"
	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the ids this service mints (uuid) and Firebase uids.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeRideError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ride.ErrNotFound), errors.Is(err, location.ErrDriverNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, maps.ErrUpstreamUnavailable):
		_ = c.Error(err)
		writeError(c, http.StatusServiceUnavailable, "routing provider unavailable")
	case errors.Is(err, history.ErrInvalidParty):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrValidation):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ride.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// rideParam reads and checks the :id path parameter.
func rideParam(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return "", false
	}
	return types.ID(id), true
}

// pointQuery reads ?lat=&lng= into a point.
func pointQuery(c *gin.Context) (types.Point, bool) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	p := types.Point{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !p.Valid() {
		writeError(c, http.StatusBadRequest, "lat and lng query parameters required")
		return types.Point{}, false
	}
	return p, true
}

func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}
