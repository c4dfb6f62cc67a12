package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/samovar-im/server/internal/domain"
)

// AttachmentRepository stores file metadata; the bytes live in object storage.
type AttachmentRepository struct {
	db *DB
}

func NewAttachmentRepository(db *DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

func (r *AttachmentRepository) Create(ctx context.Context, att *domain.Attachment) error {
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO attachments (id, uploader_id, filename, mime_type, size_bytes, object_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, att.ID, att.UploaderID, att.Filename, att.MimeType, att.SizeBytes, att.ObjectKey).Scan(&att.CreatedAt)
}

func (r *AttachmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Attachment, error) {
	att := &domain.Attachment{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, uploader_id, message_id, filename, mime_type, size_bytes, object_key, created_at
		FROM attachments WHERE id = $1
	`, id).Scan(
		&att.ID, &att.UploaderID, &att.MessageID, &att.Filename,
		&att.MimeType, &att.SizeBytes, &att.ObjectKey, &att.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return att, nil
}

// DeleteOrphaned removes metadata rows that were never bound to a message.
// Returns the object keys so the caller can clean up storage.
func (r *AttachmentRepository) DeleteOrphaned(ctx context.Context, olderThanHours int) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		DELETE FROM attachments
		WHERE message_id IS NULL
		  AND created_at < NOW() - make_interval(hours => $1)
		RETURNING object_key
	`, olderThanHours)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
