package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fabrica-io/fabrica/internal/events"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // admin surface sits behind the same origin or a proxy
	},
}

// streamEvents pushes live bus events over a websocket. The optional
// type/source query params narrow the subscription the same way /api/events
// filters the log.
func (s *Server) streamEvents(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer conn.Close()

	// Buffered so a slow client drops events instead of stalling the bus
	// dispatch loop.
	feed := make(chan events.Event, 64)
	sub := s.bus.Subscribe(eventFilterFromQuery(c), func(e events.Event) error {
		select {
		case feed <- e:
		default:
		}
		return nil
	})
	defer s.bus.Unsubscribe(sub.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// Clients only send keep-alives; a read error means the
			// connection is gone.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case event := <-feed:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
