// README: Websocket streaming of ride changes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type changeMessage struct {
	Type   string            `json:"type"`
	RideID types.ID          `json:"ride_id"`
	Ride   *ride.RideRequest `json:"ride,omitempty"`
}

// streamChanges subscribes before upgrading so authorization failures still
// get a plain HTTP status. With closeOnRemoval the socket ends once the
// watched ride disappears.
func streamChanges(c *gin.Context, logger *slog.Logger, closeOnRemoval bool, subscribe func(ctx context.Context) (<-chan ride.Change, error)) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	changes, err := subscribe(ctx)
	if err != nil {
		writeRideError(c, err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Reader: only pongs and close frames are expected from the client.
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ch, ok := <-changes:
			if !ok {
				return
			}
			msg := changeMessage{Type: "updated", RideID: ch.ID, Ride: ch.Ride}
			if ch.Ride == nil {
				msg.Type = "removed"
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if ch.Ride == nil && closeOnRemoval {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ride retired"),
					time.Now().Add(wsWriteWait))
				return
			}
		}
	}
}
