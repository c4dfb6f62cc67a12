package domain

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is stored file metadata; the bytes live in object storage.
type Attachment struct {
	ID         uuid.UUID  `json:"id"`
	UploaderID uuid.UUID  `json:"uploader_id"`
	MessageID  *uuid.UUID `json:"message_id,omitempty"` // nil until bound to a message
	Filename   string     `json:"filename"`
	MimeType   string     `json:"mime_type"`
	SizeBytes  int64      `json:"size_bytes"`
	ObjectKey  string     `json:"-"` // storage key, never exposed
	CreatedAt  time.Time  `json:"created_at"`
}
