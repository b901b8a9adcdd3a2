// Package client is the consuming side of the chat service: it fetches the
// REST snapshot for a channel, subscribes to its room over the websocket and
// reconciles both into a single ordered view.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"portal-chat/internal/storage"
	"portal-chat/internal/timeline"
)

var ErrNotConnected = errors.New("client is not connected")

type signal struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
}

// Client talks to one chat service instance on behalf of one authenticated user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.SugaredLogger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu sync.Mutex
	tl *timeline.Timeline
}

func New(baseURL, token string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		tl:         timeline.New(),
	}
}

// Connect dials the websocket endpoint and starts consuming push events.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialing %s: %v (status %d)", u.String(), err, resp.StatusCode)
		}
		return fmt.Errorf("dialing %s: %v", u.String(), err)
	}
	c.conn = conn

	go c.readLoop(conn)

	return nil
}

// Enter switches the client to channelID: the previous room is left and its
// view discarded, the snapshot is fetched, and only after a successful fetch
// is the new room joined. A failed fetch leaves the client subscribed to nothing.
func (c *Client) Enter(ctx context.Context, channelID string) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.mu.Lock()
	previous := c.tl.ChannelID()
	c.tl.Reset("", nil)
	c.mu.Unlock()

	if previous != "" {
		if err := c.sendSignal("leave_channel", previous); err != nil {
			return err
		}
	}

	snapshot, err := c.fetchSnapshot(ctx, channelID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tl.Reset(channelID, snapshot)
	c.mu.Unlock()

	return c.sendSignal("join_channel", channelID)
}

// Leave unsubscribes from the entered channel and discards its view.
// A no-op when no channel has been entered.
func (c *Client) Leave() error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.mu.Lock()
	previous := c.tl.ChannelID()
	c.tl.Reset("", nil)
	c.mu.Unlock()

	if previous == "" {
		return nil
	}
	return c.sendSignal("leave_channel", previous)
}

// Send submits a message optimistically: a placeholder entry appears in the
// view immediately and is replaced by the persisted record on success or
// removed on failure.
func (c *Client) Send(ctx context.Context, channelID, content string, attachments []string) (storage.Message, error) {
	local := storage.Message{
		ID:        "local-" + uuid.NewString(),
		ChannelID: channelID,
		Content:   content,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.tl.Stage(local)
	c.mu.Unlock()

	message, err := c.postMessage(ctx, channelID, content, attachments)
	if err != nil {
		c.mu.Lock()
		c.tl.Revert(local.ID)
		c.mu.Unlock()
		return storage.Message{}, err
	}

	c.mu.Lock()
	c.tl.Confirm(local.ID, message)
	c.mu.Unlock()

	return message, nil
}

// Messages returns the current ordered view of the entered channel.
func (c *Client) Messages() []storage.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tl.Messages()
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	var p fastjson.Parser
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debugf("read loop stopped: %v", err)
			return
		}

		v, err := p.ParseBytes(data)
		if err != nil {
			c.logger.Warnf("malformed frame: %v", err)
			continue
		}

		switch string(v.GetStringBytes("type")) {
		case "receive_message":
			messageValue := v.Get("message")
			if messageValue == nil {
				continue
			}

			var m storage.Message
			if err := json.Unmarshal(messageValue.MarshalTo(nil), &m); err != nil {
				c.logger.Warnf("decoding message event: %v", err)
				continue
			}

			c.mu.Lock()
			c.tl.Apply(m)
			c.mu.Unlock()
		case "error":
			c.logger.Warnf("server error frame: %s", v.GetStringBytes("error"))
		}
	}
}

func (c *Client) sendSignal(signalType, channelID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(signal{Type: signalType, ChannelID: channelID})
}

func (c *Client) fetchSnapshot(ctx context.Context, channelID string) ([]storage.Message, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/channels/"+channelID+"/messages", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("snapshot fetch: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var snapshot []storage.Message
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (c *Client) postMessage(ctx context.Context, channelID, content string, attachments []string) (storage.Message, error) {
	body := map[string]interface{}{
		"channelId": channelID,
		"content":   content,
	}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return storage.Message{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", strings.NewReader(string(payload)))
	if err != nil {
		return storage.Message{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return storage.Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return storage.Message{}, fmt.Errorf("send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var message storage.Message
	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		return storage.Message{}, err
	}

	return message, nil
}
