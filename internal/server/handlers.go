package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"portal-chat/internal/auth"
	"portal-chat/internal/hub"
	"portal-chat/internal/storage"
)

// TODO limit reading from body

type parsers struct {
	createChannelPool fastjson.ParserPool
	createMessagePool fastjson.ParserPool
}

type handler struct {
	logger  *zap.SugaredLogger
	store   Store
	hub     *hub.Hub
	parsers parsers
}

// createChannel handles HTTP requests on "POST /channels" endpoint
func (h *handler) createChannel(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.createChannelPool.Get()
	defer h.parsers.createChannelPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	// retrieving channel name
	if !v.Exists("name") {
		http.Error(w, "Missing Field \"name\"", http.StatusBadRequest)
		return
	}

	nameBytes, err := v.Get("name").StringBytes()
	if err != nil {
		http.Error(w, "Field \"name\" must be a string", http.StatusBadRequest)
		return
	}

	name := string(nameBytes)
	if len(name) == 0 {
		http.Error(w, "Field \"name\" must have non-zero length", http.StatusBadRequest)
		return
	}

	// retrieving kind, PUBLIC unless stated otherwise
	kind := storage.ChannelPublic
	if v.Exists("kind") {
		switch storage.ChannelKind(v.GetStringBytes("kind")) {
		case storage.ChannelPublic:
		case storage.ChannelPrivate:
			kind = storage.ChannelPrivate
		default:
			http.Error(w, "Field \"kind\" must be either \"PUBLIC\" or \"PRIVATE\"", http.StatusBadRequest)
			return
		}
	}

	description := string(v.GetStringBytes("description"))

	// retrieving initial members array
	var memberIDs []string
	if v.Exists("members") {
		memberValues, err := v.Get("members").Array()
		if err != nil {
			http.Error(w, "Field \"members\" must be an array", http.StatusBadRequest)
			return
		}

		memberIDs = make([]string, 0, len(memberValues))
		for _, mv := range memberValues {
			idBytes, err := mv.StringBytes()
			if err != nil {
				http.Error(w, "Each item in \"members\" array field must be a user id string", http.StatusBadRequest)
				return
			}
			memberIDs = append(memberIDs, string(idBytes))
		}
	}

	// creating channel
	channel, err := h.store.CreateChannel(r.Context(), ident.OrgID, ident.UserID, name, kind, description, memberIDs)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrChannelExists):
			http.Error(w, "Channel already exists", http.StatusBadRequest)
			return
		default:
			h.logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	payload, err := json.Marshal(channel)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// channelsByUser handles HTTP requests on "GET /channels" endpoint
func (h *handler) channelsByUser(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	channels, err := h.store.ChannelsByUser(r.Context(), ident.OrgID, ident.UserID)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	// a user with nothing visible gets an empty list, not an error
	if channels == nil {
		channels = []storage.Channel{}
	}

	payload, err := json.Marshal(channels)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// createMessage handles HTTP requests on "POST /messages" endpoint.
// The message is persisted first, then the persisted record is published to
// the channel's room. A failed publish is not rolled back: the message stays
// durable and reaches late joiners via the next snapshot fetch.
func (h *handler) createMessage(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.createMessagePool.Get()
	defer h.parsers.createMessagePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	// retrieving channel id
	if !v.Exists("channelId") {
		http.Error(w, "Missing Field \"channelId\"", http.StatusBadRequest)
		return
	}

	channelIDBytes, err := v.Get("channelId").StringBytes()
	if err != nil {
		http.Error(w, "Field \"channelId\" must be a string", http.StatusBadRequest)
		return
	}

	channelID := string(channelIDBytes)
	if len(channelID) == 0 {
		http.Error(w, "Field \"channelId\" must have non-zero length", http.StatusBadRequest)
		return
	}

	// retrieving content
	if !v.Exists("content") {
		http.Error(w, "Missing Field \"content\"", http.StatusBadRequest)
		return
	}

	contentBytes, err := v.Get("content").StringBytes()
	if err != nil {
		http.Error(w, "Field \"content\" must be a string", http.StatusBadRequest)
		return
	}

	content := string(contentBytes)
	if len(content) == 0 {
		http.Error(w, "Field \"content\" must have non-zero length", http.StatusBadRequest)
		return
	}

	// retrieving attachments
	var attachments []string
	if v.Exists("attachments") {
		attachmentValues, err := v.Get("attachments").Array()
		if err != nil {
			http.Error(w, "Field \"attachments\" must be an array", http.StatusBadRequest)
			return
		}

		attachments = make([]string, 0, len(attachmentValues))
		for _, av := range attachmentValues {
			pathBytes, err := av.StringBytes()
			if err != nil {
				http.Error(w, "Each item in \"attachments\" array field must be a string", http.StatusBadRequest)
				return
			}
			attachments = append(attachments, string(pathBytes))
		}
	}

	// creating message
	message, err := h.store.CreateMessage(r.Context(), ident.OrgID, channelID, ident.UserID, ident.DisplayName, content, attachments)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrChannelNotExist):
			http.Error(w, "Channel with provided id does not exist", http.StatusNotFound)
			return
		default:
			h.logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.publishMessage(message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// messagesByChannelID handles HTTP requests on "GET /channels/{channelId}/messages" endpoint
func (h *handler) messagesByChannelID(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	channelID := r.PathValue("channelId")
	if channelID == "" {
		http.Error(w, "Missing channel id", http.StatusBadRequest)
		return
	}

	// snapshot reads honor the same visibility rules as room joins
	allowed, err := h.store.CanAccess(r.Context(), ident.OrgID, ident.UserID, channelID)
	switch {
	case errors.Is(err, storage.ErrChannelNotExist):
		http.Error(w, "Channel with provided id does not exist", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	case !allowed:
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	messages, err := h.store.MessagesByChannelID(r.Context(), ident.OrgID, channelID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrChannelNotExist):
			http.Error(w, "Channel with provided id does not exist", http.StatusNotFound)
			return
		default:
			h.logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	if messages == nil {
		messages = []storage.Message{}
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}
