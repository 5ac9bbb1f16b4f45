// README: Geocoding and autocomplete passthrough to the maps provider.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridewise/internal/maps"
)

type PlacesHandler struct {
	places *maps.PlacesService
}

// NewPlacesHandler accepts a nil service; every route then answers 503.
func NewPlacesHandler(svc *maps.PlacesService) *PlacesHandler {
	return &PlacesHandler{places: svc}
}

func (h *PlacesHandler) available(c *gin.Context) bool {
	if h.places == nil {
		writeError(c, http.StatusServiceUnavailable, "places provider not configured")
		return false
	}
	return true
}

func (h *PlacesHandler) Geocode(c *gin.Context) {
	q := strings.TrimSpace(c.Query("address"))
	if q == "" {
		writeError(c, http.StatusBadRequest, "address required")
		return
	}
	if !h.available(c) {
		return
	}
	places, err := h.places.Geocode(c.Request.Context(), q)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"places": places})
}

func (h *PlacesHandler) Reverse(c *gin.Context) {
	p, ok := pointQuery(c)
	if !ok || !h.available(c) {
		return
	}
	places, err := h.places.ReverseGeocode(c.Request.Context(), p)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"places": places})
}

func (h *PlacesHandler) Autocomplete(c *gin.Context) {
	input := strings.TrimSpace(c.Query("input"))
	if input == "" {
		writeError(c, http.StatusBadRequest, "input required")
		return
	}
	if !h.available(c) {
		return
	}
	suggestions, err := h.places.Autocomplete(c.Request.Context(), input)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"suggestions": suggestions})
}
