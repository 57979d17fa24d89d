package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/mubot/mu/internal/conversation"
	"github.com/mubot/mu/internal/log"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type conversationHandler struct {
	store  conversation.Store
	logger log.Logger
}

type createConversationRequest struct {
	Title string `json:"title"`
}

func (h *conversationHandler) create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	conv, err := h.store.Create(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("creating conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, conv, h.logger)
}

func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	convs, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}
	if convs == nil {
		convs = []conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs, h.logger)
}

func (h *conversationHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	conv, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "fetching conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv, h.logger)
}

func (h *conversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	msgs, err := h.store.History(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "fetching messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs, h.logger)
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

func (h *conversationHandler) rename(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var req renameConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "empty_title", "title is required", h.logger)
		return
	}

	if err := h.store.SetTitle(r.Context(), id, req.Title); err != nil {
		h.storeError(w, err, "renaming conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *conversationHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.storeError(w, err, "deleting conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathID parses the {id} path segment, writing a 400 on failure.
func (h *conversationHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_conversation_id", "conversation id is not a valid uuid", h.logger)
		return uuid.Nil, false
	}
	return id, true
}

func (h *conversationHandler) storeError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation_not_found", "conversation does not exist", h.logger)
		return
	}
	h.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
