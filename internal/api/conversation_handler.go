package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samovar-im/server/internal/auth"
	"github.com/samovar-im/server/internal/database"
	"github.com/samovar-im/server/internal/domain"
	"github.com/samovar-im/server/internal/realtime"
)

// ConversationHandler handles conversation and message endpoints
type ConversationHandler struct {
	convs       *database.ConversationRepository
	users       *database.UserRepository
	broadcaster realtime.Broadcaster
	logger      *slog.Logger
}

func NewConversationHandler(convs *database.ConversationRepository, users *database.UserRepository, broadcaster realtime.Broadcaster, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{
		convs:       convs,
		users:       users,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// CreateConversation handles POST /conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input struct {
		Type      string   `json:"type" validate:"required,oneof=dm group"`
		Title     string   `json:"title" validate:"max=100"`
		MemberIDs []string `json:"member_ids" validate:"required,min=1,dive,uuid4"`
	}
	if msg, ok := decodeAndValidate(r, &input); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	convType := domain.ConversationType(strings.ToLower(input.Type))

	memberIDs := []uuid.UUID{userID} // always include creator
	for _, idStr := range input.MemberIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid member ID: "+idStr)
			return
		}
		if id != userID { // don't add creator twice
			memberIDs = append(memberIDs, id)
		}
	}

	if convType == domain.ConversationTypeDM {
		if len(memberIDs) != 2 {
			writeError(w, http.StatusBadRequest, "DM must have exactly 2 members")
			return
		}
		// Reuse an existing DM instead of creating a duplicate
		existing, err := h.convs.FindDMBetween(r.Context(), memberIDs[0], memberIDs[1])
		if err != nil && !errors.Is(err, domain.ErrConversationNotFound) {
			h.logger.Error("find DM failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to check existing DM")
			return
		}
		if existing != nil {
			writeJSON(w, http.StatusOK, existing)
			return
		}
	}

	if convType == domain.ConversationTypeGroup {
		if len(memberIDs) < 2 {
			writeError(w, http.StatusBadRequest, "group must have at least 2 members")
			return
		}
		if len(memberIDs) > 100 {
			writeError(w, http.StatusBadRequest, "group cannot exceed 100 members")
			return
		}
		if input.Title == "" {
			writeError(w, http.StatusBadRequest, "group title is required")
			return
		}
	}

	conv := &domain.Conversation{
		ID:        uuid.New(),
		Type:      convType,
		Title:     input.Title,
		CreatedBy: &userID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := h.convs.Create(r.Context(), conv, memberIDs); err != nil {
		h.logger.Error("create conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	// Tell the other members' live connections about the new conversation
	for _, id := range memberIDs {
		if id == userID {
			continue
		}
		if err := h.broadcaster.ConversationAdded(r.Context(), id, conv.ID); err != nil {
			h.logger.Warn("conversation.added broadcast failed", "user_id", id, "error", err)
		}
	}

	conv, err := h.convs.GetByID(r.Context(), conv.ID)
	if err != nil {
		h.logger.Error("fetch conversation failed", "error", err)
	}

	writeJSON(w, http.StatusCreated, conv)
}

// ListConversations handles GET /conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conversations, err := h.convs.GetUserConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	if conversations == nil {
		conversations = []domain.Conversation{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

// GetConversation handles GET /conversations/{id}
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	isMember, err := h.convs.IsMember(r.Context(), convID, userID)
	if err != nil {
		h.logger.Error("check membership failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	conv, err := h.convs.GetByID(r.Context(), convID)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("get conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// AddMember handles POST /conversations/{id}/members
func (h *ConversationHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	var input struct {
		UserID string `json:"user_id" validate:"required,uuid4"`
	}
	if msg, ok := decodeAndValidate(r, &input); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	newMemberID, err := uuid.Parse(input.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	isMember, err := h.convs.IsMember(r.Context(), convID, userID)
	if err != nil || !isMember {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	conv, err := h.convs.GetByID(r.Context(), convID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if conv.Type != domain.ConversationTypeGroup {
		writeError(w, http.StatusBadRequest, "cannot add members to DM")
		return
	}

	newMember, err := h.users.GetByID(r.Context(), newMemberID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.convs.AddMember(r.Context(), convID, newMemberID, domain.MemberRoleMember); err != nil {
		if errors.Is(err, domain.ErrAlreadyMember) {
			writeError(w, http.StatusConflict, "user is already a member")
			return
		}
		h.logger.Error("add member failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}

	if err := h.broadcaster.MemberJoined(r.Context(), convID, newMemberID, newMember.Username, string(domain.MemberRoleMember), userID); err != nil {
		h.logger.Warn("member_joined broadcast failed", "error", err)
	}
	if err := h.broadcaster.ConversationAdded(r.Context(), newMemberID, convID); err != nil {
		h.logger.Warn("conversation.added broadcast failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "member added"})
}

// RemoveMember handles DELETE /conversations/{id}/members/{userId}
func (h *ConversationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	targetUserID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	isMember, err := h.convs.IsMember(r.Context(), convID, userID)
	if err != nil || !isMember {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	// Members remove themselves; admins can remove anyone
	if userID != targetUserID {
		role, err := h.convs.GetMemberRole(r.Context(), convID, userID)
		if err != nil || role != domain.MemberRoleAdmin {
			writeError(w, http.StatusForbidden, "only admins can remove other members")
			return
		}
	}

	if err := h.convs.RemoveMember(r.Context(), convID, targetUserID); err != nil {
		if errors.Is(err, domain.ErrNotMember) {
			writeError(w, http.StatusNotFound, "user is not a member")
			return
		}
		h.logger.Error("remove member failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}

	// The hub also detaches the removed user's live connections from the room
	if err := h.broadcaster.MemberLeft(r.Context(), convID, targetUserID, userID); err != nil {
		h.logger.Warn("member_left broadcast failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "member removed"})
}

// GetMessages handles GET /conversations/{id}/messages?before=<timestamp>&limit=50
func (h *ConversationHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	isMember, err := h.convs.IsMember(r.Context(), convID, userID)
	if err != nil || !isMember {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	var before *time.Time
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		t, err := time.Parse(time.RFC3339, beforeStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'before' timestamp")
			return
		}
		before = &t
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	messages, err := h.convs.GetMessages(r.Context(), convID, limit, before)
	if err != nil {
		h.logger.Error("get messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	if messages == nil {
		messages = []domain.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

// SendMessage handles POST /conversations/{id}/messages
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	username, _ := auth.GetUsername(r.Context())

	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	var input struct {
		Body          string   `json:"body" validate:"max=10000"`
		ReplyTo       string   `json:"reply_to" validate:"omitempty,uuid4"`
		AttachmentIDs []string `json:"attachment_ids" validate:"max=10,dive,uuid4"`
	}
	if msg, ok := decodeAndValidate(r, &input); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	input.Body = strings.TrimSpace(input.Body)
	if input.Body == "" && len(input.AttachmentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}

	isMember, err := h.convs.IsMember(r.Context(), convID, userID)
	if err != nil || !isMember {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	msgType := domain.MessageTypeText
	if len(input.AttachmentIDs) > 0 {
		msgType = domain.MessageTypeMedia
	}

	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       &userID,
		Type:           msgType,
		Body:           input.Body,
		CreatedAt:      time.Now(),
	}
	if input.ReplyTo != "" {
		replyTo, _ := uuid.Parse(input.ReplyTo)
		msg.ReplyTo = &replyTo
	}

	attachmentIDs := make([]uuid.UUID, 0, len(input.AttachmentIDs))
	for _, idStr := range input.AttachmentIDs {
		id, _ := uuid.Parse(idStr)
		attachmentIDs = append(attachmentIDs, id)
	}

	if err := h.convs.CreateMessage(r.Context(), msg, attachmentIDs); err != nil {
		if errors.Is(err, domain.ErrAttachmentNotFound) {
			writeError(w, http.StatusBadRequest, "attachment not found or already used")
			return
		}
		h.logger.Error("create message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	user, _ := h.users.GetByID(r.Context(), userID)
	if user != nil {
		pub := user.ToPublic()
		msg.Sender = &pub
	}

	payload := realtime.MessageNewPayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       userID,
		SenderUsername: username,
		Type:           msg.Type,
		Body:           msg.Body,
		ReplyTo:        msg.ReplyTo,
		CreatedAt:      msg.CreatedAt,
	}
	for _, a := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, realtime.AttachmentPayload{
			ID:        a.ID,
			Filename:  a.Filename,
			MimeType:  a.MimeType,
			SizeBytes: a.SizeBytes,
		})
	}
	if err := h.broadcaster.MessageCreated(r.Context(), payload); err != nil {
		h.logger.Warn("message.new broadcast failed", "error", err)
	}

	writeJSON(w, http.StatusCreated, msg)
}

// CreatePoll handles POST /conversations/{id}/polls
func (h *ConversationHandler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	username, _ := auth.GetUsername(r.Context())

	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation ID")
		return
	}

	var input struct {
		Question string   `json:"question" validate:"required,max=500"`
		Options  []string `json:"options" validate:"required,min=2,max=10,dive,required,max=100"`
	}
	if msg, ok := decodeAndValidate(r, &input); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	isMember, err := h.convs.IsMember(r.Context(), convID, userID)
	if err != nil || !isMember {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       &userID,
		CreatedAt:      time.Now(),
	}

	if err := h.convs.CreatePollMessage(r.Context(), msg, input.Question, input.Options); err != nil {
		h.logger.Error("create poll failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create poll")
		return
	}

	if err := h.broadcaster.MessageCreated(r.Context(), realtime.MessageNewPayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       userID,
		SenderUsername: username,
		Type:           msg.Type,
		Body:           msg.Body,
		CreatedAt:      msg.CreatedAt,
	}); err != nil {
		h.logger.Warn("message.new broadcast failed", "error", err)
	}

	writeJSON(w, http.StatusCreated, msg)
}
