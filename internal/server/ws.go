package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"

	"portal-chat/internal/auth"
	"portal-chat/internal/hub"
	"portal-chat/internal/storage"
)

// Client-to-server signals and server-to-client event types, matching the
// names the portal's frontend listens for.
const (
	signalJoinChannel   = "join_channel"
	signalLeaveChannel  = "leave_channel"
	eventReceiveMessage = "receive_message"
	eventError          = "error"
)

// wireEvent is the envelope for every frame crossing the websocket.
type wireEvent struct {
	Type    string           `json:"type"`
	Message *storage.Message `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin is enforced by the portal's gateway in front of this service
	CheckOrigin: func(r *http.Request) bool { return true },
}

// publishMessage wraps a persisted message in the wire envelope and fans it
// out to the channel's room. This is the only way message events enter a room.
func (h *handler) publishMessage(message storage.Message) {
	payload, err := json.Marshal(wireEvent{Type: eventReceiveMessage, Message: &message})
	if err != nil {
		h.logger.Errorf("marshaling message event: %v", err)
		return
	}

	delivered := h.hub.Publish(message.ChannelID, payload)
	h.logger.Debugf("published message %s to %d sessions", message.ID, delivered)
}

func errorFrame(msg string) []byte {
	payload, _ := json.Marshal(wireEvent{Type: eventError, Error: msg})
	return payload
}

// serveWS handles "GET /ws": upgrades the authenticated request and runs the
// connection session until the client disconnects.
func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.logger.Debugf("websocket upgrade: %v", err)
		return
	}

	// the server read timeout was armed for the handshake, this connection is long-lived
	_ = conn.UnderlyingConn().SetDeadline(time.Time{})

	sess := hub.NewSession()
	h.hub.Register(sess)

	go writePump(conn, sess)
	h.readLoop(conn, sess, ident)
}

// writePump is the single writer for the connection. It drains the session's
// outbound queue; when the hub closes the queue it closes the connection.
func writePump(conn *websocket.Conn, sess *hub.Session) {
	for payload := range sess.Events() {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			break
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}

// readLoop decodes join/leave signals until the connection drops, then
// unregisters the session so subsequent publishes no longer reach it.
// PRIVATE channel confidentiality is enforced here: a join is honored only
// after the membership registry confirms visibility.
func (h *handler) readLoop(conn *websocket.Conn, sess *hub.Session, ident auth.Identity) {
	defer func() {
		h.hub.Unregister(sess)
		_ = conn.Close()
	}()

	var p fastjson.Parser
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debugf("session %s read: %v", sess.ID, err)
			return
		}

		v, err := p.ParseBytes(data)
		if err != nil {
			sess.Enqueue(errorFrame("Malformed signal"))
			continue
		}

		channelID := string(v.GetStringBytes("channelId"))
		if channelID == "" {
			sess.Enqueue(errorFrame("Missing Field \"channelId\""))
			continue
		}

		switch string(v.GetStringBytes("type")) {
		case signalJoinChannel:
			// the request context dies with the handshake, store calls get their own
			ok, err := h.store.CanAccess(context.Background(), ident.OrgID, ident.UserID, channelID)
			switch {
			case errors.Is(err, storage.ErrChannelNotExist):
				sess.Enqueue(errorFrame("Channel with provided id does not exist"))
			case err != nil:
				h.logger.Error(err)
				sess.Enqueue(errorFrame(http.StatusText(http.StatusInternalServerError)))
			case !ok:
				sess.Enqueue(errorFrame("Forbidden"))
			default:
				h.hub.Join(sess, channelID)
			}
		case signalLeaveChannel:
			h.hub.Leave(sess, channelID)
		default:
			sess.Enqueue(errorFrame("Unknown signal type"))
		}
	}
}
