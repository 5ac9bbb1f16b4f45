// README: Ride history and stats for the calling rider or driver.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridewise/internal/http/middleware"
	"ridewise/internal/modules/history"
)

type HistoryHandler struct {
	history *history.Service
}

func NewHistoryHandler(svc *history.Service) *HistoryHandler {
	return &HistoryHandler{history: svc}
}

// party defaults to rider; the driver view needs the driver role.
func (h *HistoryHandler) party(c *gin.Context) (history.Party, bool) {
	p := history.Party(c.DefaultQuery("party", string(history.PartyRider)))
	if !p.Valid() {
		writeRideError(c, history.ErrInvalidParty)
		return "", false
	}
	if p == history.PartyDriver && middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return "", false
	}
	return p, true
}

func (h *HistoryHandler) List(c *gin.Context) {
	p, ok := h.party(c)
	if !ok {
		return
	}
	records, err := h.history.List(c.Request.Context(), p, callerID(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	writeJSON(c, http.StatusOK, gin.H{"records": records})
}

func (h *HistoryHandler) Stats(c *gin.Context) {
	p, ok := h.party(c)
	if !ok {
		return
	}
	stats, err := h.history.Stats(c.Request.Context(), p, callerID(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, stats)
}
