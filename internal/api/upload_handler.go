package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samovar-im/server/internal/auth"
	"github.com/samovar-im/server/internal/database"
	"github.com/samovar-im/server/internal/domain"
	"github.com/samovar-im/server/internal/storage"
)

// UploadHandler issues presigned R2 URLs for attachment upload and download.
// Attachments start unbound; sending a message with attachment_ids binds them.
type UploadHandler struct {
	attachments    *database.AttachmentRepository
	convs          *database.ConversationRepository
	r2             *storage.R2Storage
	maxUploadBytes int64
	allowedMime    []string
	logger         *slog.Logger
}

func NewUploadHandler(
	attachments *database.AttachmentRepository,
	convs *database.ConversationRepository,
	r2 *storage.R2Storage,
	maxUploadBytes int64,
	logger *slog.Logger,
) *UploadHandler {
	return &UploadHandler{
		attachments:    attachments,
		convs:          convs,
		r2:             r2,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
		allowedMime: []string{
			"image/", "video/", "audio/",
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument",
			"text/plain",
		},
	}
}

// InitUpload handles POST /uploads/init
func (h *UploadHandler) InitUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input struct {
		Filename  string `json:"filename" validate:"required,max=255"`
		MimeType  string `json:"mime_type" validate:"required,max=128"`
		SizeBytes int64  `json:"size_bytes" validate:"required,gt=0"`
	}
	if msg, ok := decodeAndValidate(r, &input); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if input.SizeBytes > h.maxUploadBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file too large (max %d bytes)", h.maxUploadBytes))
		return
	}
	if !h.isMimeAllowed(input.MimeType) {
		writeError(w, http.StatusBadRequest, "file type not allowed")
		return
	}

	att := &domain.Attachment{
		ID:         uuid.New(),
		UploaderID: userID,
		Filename:   input.Filename,
		MimeType:   input.MimeType,
		SizeBytes:  input.SizeBytes,
	}
	att.ObjectKey = objectKey(userID, att.ID, input.Filename)

	if err := h.attachments.Create(ctx, att); err != nil {
		h.logger.Error("create attachment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create attachment record")
		return
	}

	uploadURL, err := h.r2.PresignPut(ctx, att.ObjectKey, input.MimeType, 15*time.Minute)
	if err != nil {
		h.logger.Error("presign PUT failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attachment_id": att.ID,
		"upload_url":    uploadURL,
		"required_headers": map[string]string{
			"Content-Type": input.MimeType,
		},
	})
}

// GetAttachmentURL handles GET /attachments/{id}/url
func (h *UploadHandler) GetAttachmentURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	attID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attachment ID")
		return
	}

	att, err := h.attachments.GetByID(ctx, attID)
	if err != nil {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}

	// Unbound attachments are only visible to the uploader; bound ones to
	// members of the message's conversation.
	if att.MessageID == nil {
		if att.UploaderID != userID {
			writeError(w, http.StatusForbidden, "not authorized")
			return
		}
	} else {
		msg, err := h.convs.GetMessage(ctx, *att.MessageID)
		if err != nil {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		isMember, err := h.convs.IsMember(ctx, msg.ConversationID, userID)
		if err != nil || !isMember {
			writeError(w, http.StatusForbidden, "not authorized")
			return
		}
	}

	downloadURL, err := h.r2.PresignGet(ctx, att.ObjectKey, time.Hour)
	if err != nil {
		h.logger.Error("presign GET failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate download URL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attachment_id": att.ID,
		"filename":      att.Filename,
		"mime_type":     att.MimeType,
		"size_bytes":    att.SizeBytes,
		"download_url":  downloadURL,
	})
}

func (h *UploadHandler) isMimeAllowed(mimeType string) bool {
	for _, allowed := range h.allowedMime {
		if strings.HasPrefix(mimeType, allowed) {
			return true
		}
	}
	return false
}

func objectKey(uploaderID, attachmentID uuid.UUID, filename string) string {
	ext := path.Ext(filename)
	return fmt.Sprintf("uploads/%s/%s%s", uploaderID, attachmentID, ext)
}
