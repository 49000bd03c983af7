package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/imagedesk/imagedesk/api/pkg/pubsub"
)

var sessionEventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// sessionEventsWebsocket streams lifecycle events for one session to
// its doctor, or the firehose of every session to an admin. Browsers
// cannot set headers on the handshake, so the token arrives as a query
// parameter and auth happens here instead of the middleware chain.
func (apiServer *APIServer) sessionEventsWebsocket(w http.ResponseWriter, r *http.Request) {
	user := getRequestUser(r)
	if !hasUser(user) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	var topic string
	switch {
	case sessionID != "":
		topic = pubsub.GetSessionQueue(user.ID, sessionID)
	case isAdmin(user):
		topic = pubsub.GetAdminQueue()
	default:
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	conn, err := sessionEventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("error upgrading websocket")
		return
	}
	defer conn.Close()

	// ping and subscription writes can race on the connection
	var wsMu sync.Mutex

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				wsMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
				wsMu.Unlock()
				if err != nil {
					log.Debug().Err(err).Msg("websocket ping failed, connection closing")
					return
				}
			}
		}
	}()

	sub, err := apiServer.pubsub.Subscribe(r.Context(), topic, func(payload []byte) error {
		wsMu.Lock()
		writeErr := conn.WriteMessage(websocket.TextMessage, payload)
		wsMu.Unlock()
		if writeErr != nil {
			log.Error().Err(writeErr).Msg("error writing to websocket")
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("error subscribing to session events")
		return
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe")
		}
	}()

	log.Trace().
		Str("user_id", user.ID).
		Str("topic", topic).
		Msg("session events websocket connected")

	// block on reads from the client; an error means it disconnected
	for {
		messageType, _, err := conn.ReadMessage()
		if err != nil {
			log.Trace().Err(err).Msg("client disconnected")
			break
		}
		if messageType == websocket.CloseMessage {
			break
		}
	}
}
