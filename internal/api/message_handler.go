package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/samovar-im/server/internal/auth"
	"github.com/samovar-im/server/internal/database"
	"github.com/samovar-im/server/internal/domain"
	"github.com/samovar-im/server/internal/realtime"
)

// MessageHandler handles per-message endpoints: edits, deletions,
// reactions and poll votes.
type MessageHandler struct {
	convs       *database.ConversationRepository
	broadcaster realtime.Broadcaster
	logger      *slog.Logger
}

func NewMessageHandler(convs *database.ConversationRepository, broadcaster realtime.Broadcaster, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		convs:       convs,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// loadMessage parses the path, loads the message, and verifies the caller
// is a member of its conversation.
func (h *MessageHandler) loadMessage(w http.ResponseWriter, r *http.Request) (*domain.Message, uuid.UUID, bool) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, uuid.Nil, false
	}

	messageID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message ID")
		return nil, uuid.Nil, false
	}

	msg, err := h.convs.GetMessage(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return nil, uuid.Nil, false
		}
		h.logger.Error("get message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return nil, uuid.Nil, false
	}

	isMember, err := h.convs.IsMember(r.Context(), msg.ConversationID, userID)
	if err != nil || !isMember {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return nil, uuid.Nil, false
	}

	return msg, userID, true
}

// Edit handles PUT /messages/{id}
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	msg, userID, ok := h.loadMessage(w, r)
	if !ok {
		return
	}

	var input struct {
		Body string `json:"body" validate:"required,max=10000"`
	}
	if errMsg, ok := decodeAndValidate(r, &input); !ok {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	input.Body = strings.TrimSpace(input.Body)
	if input.Body == "" {
		writeError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	updated, err := h.convs.UpdateMessage(r.Context(), msg.ID, userID, input.Body)
	if err != nil {
		if errors.Is(err, domain.ErrNotSender) {
			writeError(w, http.StatusForbidden, "only the sender can edit a message")
			return
		}
		h.logger.Error("update message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update message")
		return
	}

	if updated.EditedAt != nil {
		if err := h.broadcaster.MessageUpdated(r.Context(), updated.ConversationID, updated.ID, updated.Body, *updated.EditedAt); err != nil {
			h.logger.Warn("message.updated broadcast failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /messages/{id}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	msg, userID, ok := h.loadMessage(w, r)
	if !ok {
		return
	}

	deleted, err := h.convs.DeleteMessage(r.Context(), msg.ID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotSender) {
			writeError(w, http.StatusForbidden, "only the sender can delete a message")
			return
		}
		h.logger.Error("delete message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	if err := h.broadcaster.MessageDeleted(r.Context(), deleted.ConversationID, deleted.ID, userID); err != nil {
		h.logger.Warn("message.deleted broadcast failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "message deleted"})
}

// React handles POST /messages/{id}/reactions
func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	msg, userID, ok := h.loadMessage(w, r)
	if !ok {
		return
	}

	var input struct {
		Emoji string `json:"emoji" validate:"required,max=16"`
	}
	if errMsg, ok := decodeAndValidate(r, &input); !ok {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if err := h.convs.AddReaction(r.Context(), msg.ID, userID, input.Emoji); err != nil {
		h.logger.Error("add reaction failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add reaction")
		return
	}

	if err := h.broadcaster.MessageReaction(r.Context(), msg.ConversationID, msg.ID, userID, input.Emoji, false); err != nil {
		h.logger.Warn("message.reaction broadcast failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reaction added"})
}

// Unreact handles DELETE /messages/{id}/reactions/{emoji}
func (h *MessageHandler) Unreact(w http.ResponseWriter, r *http.Request) {
	msg, userID, ok := h.loadMessage(w, r)
	if !ok {
		return
	}

	emoji := r.PathValue("emoji")
	if emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}

	if err := h.convs.RemoveReaction(r.Context(), msg.ID, userID, emoji); err != nil {
		h.logger.Error("remove reaction failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove reaction")
		return
	}

	if err := h.broadcaster.MessageReaction(r.Context(), msg.ConversationID, msg.ID, userID, emoji, true); err != nil {
		h.logger.Warn("message.reaction broadcast failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reaction removed"})
}

// Vote handles POST /messages/{id}/vote
func (h *MessageHandler) Vote(w http.ResponseWriter, r *http.Request) {
	msg, userID, ok := h.loadMessage(w, r)
	if !ok {
		return
	}

	var input struct {
		OptionIndex *int `json:"option_index" validate:"required,min=0"`
	}
	if errMsg, ok := decodeAndValidate(r, &input); !ok {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	poll, err := h.convs.VotePoll(r.Context(), msg.ID, userID, *input.OptionIndex)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotAPoll):
			writeError(w, http.StatusBadRequest, "message is not a poll")
		case errors.Is(err, domain.ErrInvalidOption):
			writeError(w, http.StatusBadRequest, "poll option does not exist")
		default:
			h.logger.Error("vote failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to record vote")
		}
		return
	}

	if err := h.broadcaster.PollVoted(r.Context(), msg.ConversationID, msg.ID, userID, *input.OptionIndex); err != nil {
		h.logger.Warn("poll.vote broadcast failed", "error", err)
	}

	writeJSON(w, http.StatusOK, poll)
}
