package database

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/samovar-im/server/internal/domain"
)

// ConversationRepository handles conversations, membership, messages,
// reactions, polls and read receipts.
type ConversationRepository struct {
	db *DB
}

func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create inserts a conversation with its initial members in one transaction.
// The creator gets the admin role on group conversations.
func (r *ConversationRepository) Create(ctx context.Context, conv *domain.Conversation, memberIDs []uuid.UUID) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, type, title, created_by)
		VALUES ($1, $2, $3, $4)
	`, conv.ID, conv.Type, conv.Title, conv.CreatedBy)
	if err != nil {
		return err
	}

	for _, userID := range memberIDs {
		role := domain.MemberRoleMember
		if conv.Type == domain.ConversationTypeGroup && conv.CreatedBy != nil && *conv.CreatedBy == userID {
			role = domain.MemberRoleAdmin
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_members (conversation_id, user_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (conversation_id, user_id) DO NOTHING
		`, conv.ID, userID, role)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, type, title, created_by, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(&conv.ID, &conv.Type, &conv.Title, &conv.CreatedBy, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	members, err := r.GetMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Members = members
	return conv, nil
}

// GetUserConversations returns all conversations the user belongs to,
// most recently active first.
func (r *ConversationRepository) GetUserConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT c.id, c.type, c.title, c.created_by, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id
		WHERE cm.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.Type, &c.Title, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		members, err := r.GetMembers(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].Members = members
	}
	return convs, nil
}

// FindDMBetween returns the existing DM conversation between two users, if any.
func (r *ConversationRepository) FindDMBetween(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	var id uuid.UUID
	err := r.db.Pool.QueryRow(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_members m1 ON m1.conversation_id = c.id AND m1.user_id = $1
		JOIN conversation_members m2 ON m2.conversation_id = c.id AND m2.user_id = $2
		WHERE c.type = 'dm'
		LIMIT 1
	`, a, b).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *ConversationRepository) GetMembers(ctx context.Context, convID uuid.UUID) ([]domain.ConversationMember, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT cm.conversation_id, cm.user_id, cm.role, cm.joined_at,
		       u.id, u.username, u.display_name, u.avatar_url, u.last_seen_at
		FROM conversation_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.conversation_id = $1
		ORDER BY cm.joined_at
	`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.ConversationMember
	for rows.Next() {
		var m domain.ConversationMember
		var u domain.PublicUser
		if err := rows.Scan(
			&m.ConversationID, &m.UserID, &m.Role, &m.JoinedAt,
			&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.LastSeenAt,
		); err != nil {
			return nil, err
		}
		m.User = &u
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *ConversationRepository) AddMember(ctx context.Context, convID, userID uuid.UUID, role domain.MemberRole) error {
	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, convID, userID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyMember
	}
	return nil
}

func (r *ConversationRepository) RemoveMember(ctx context.Context, convID, userID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM conversation_members
		WHERE conversation_id = $1 AND user_id = $2
	`, convID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotMember
	}
	return nil
}

func (r *ConversationRepository) GetMemberRole(ctx context.Context, convID, userID uuid.UUID) (domain.MemberRole, error) {
	var role domain.MemberRole
	err := r.db.Pool.QueryRow(ctx, `
		SELECT role FROM conversation_members
		WHERE conversation_id = $1 AND user_id = $2
	`, convID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotMember
	}
	return role, err
}

// IsMember reports whether the user belongs to the conversation.
func (r *ConversationRepository) IsMember(ctx context.Context, convID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_members
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, convID, userID).Scan(&exists)
	return exists, err
}

// MemberIDs returns the user IDs of every member of the conversation.
func (r *ConversationRepository) MemberIDs(ctx context.Context, convID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT user_id FROM conversation_members WHERE conversation_id = $1", convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ConversationIDsFor returns every conversation the user is a member of.
func (r *ConversationRepository) ConversationIDsFor(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT conversation_id FROM conversation_members WHERE user_id = $1", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateMessage persists a message, bumps the conversation's activity
// timestamp, and binds any referenced attachments to it. An attachment
// can only be bound by the user who uploaded it, and only once.
func (r *ConversationRepository) CreateMessage(ctx context.Context, msg *domain.Message, attachmentIDs []uuid.UUID) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, type, body, reply_to)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Type, msg.Body, msg.ReplyTo).Scan(&msg.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		"UPDATE conversations SET updated_at = NOW() WHERE id = $1", msg.ConversationID)
	if err != nil {
		return err
	}

	for _, attID := range attachmentIDs {
		tag, err := tx.Exec(ctx, `
			UPDATE attachments SET message_id = $1
			WHERE id = $2 AND uploader_id = $3 AND message_id IS NULL
		`, msg.ID, attID, msg.SenderID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAttachmentNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if len(attachmentIDs) > 0 {
		atts, err := r.messageAttachments(ctx, msg.ID)
		if err != nil {
			return err
		}
		msg.Attachments = atts
	}
	return nil
}

// CreatePollMessage persists a poll message together with its options.
func (r *ConversationRepository) CreatePollMessage(ctx context.Context, msg *domain.Message, question string, options []string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, type, body)
		VALUES ($1, $2, $3, 'poll', $4)
		RETURNING created_at
	`, msg.ID, msg.ConversationID, msg.SenderID, question).Scan(&msg.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO polls (message_id, question) VALUES ($1, $2)", msg.ID, question)
	if err != nil {
		return err
	}

	poll := &domain.Poll{MessageID: msg.ID, Question: question}
	for i, text := range options {
		_, err = tx.Exec(ctx, `
			INSERT INTO poll_options (message_id, option_index, text)
			VALUES ($1, $2, $3)
		`, msg.ID, i, text)
		if err != nil {
			return err
		}
		poll.Options = append(poll.Options, domain.PollOption{Index: i, Text: text})
	}

	_, err = tx.Exec(ctx,
		"UPDATE conversations SET updated_at = NOW() WHERE id = $1", msg.ConversationID)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	msg.Type = domain.MessageTypePoll
	msg.Body = question
	msg.Poll = poll
	return nil
}

// VotePoll records a vote. A user gets one vote per poll; re-voting moves it.
// Returns the poll with fresh vote counts.
func (r *ConversationRepository) VotePoll(ctx context.Context, messageID, userID uuid.UUID, optionIndex int) (*domain.Poll, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM poll_options WHERE message_id = $1 AND option_index = $2
		)
	`, messageID, optionIndex).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		var isPoll bool
		if err := r.db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM polls WHERE message_id = $1)", messageID,
		).Scan(&isPoll); err != nil {
			return nil, err
		}
		if !isPoll {
			return nil, domain.ErrNotAPoll
		}
		return nil, domain.ErrInvalidOption
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO poll_votes (message_id, user_id, option_index)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO UPDATE SET option_index = $3, voted_at = NOW()
	`, messageID, userID, optionIndex)
	if err != nil {
		return nil, err
	}

	return r.getPoll(ctx, messageID)
}

func (r *ConversationRepository) getPoll(ctx context.Context, messageID uuid.UUID) (*domain.Poll, error) {
	poll := &domain.Poll{MessageID: messageID}
	err := r.db.Pool.QueryRow(ctx,
		"SELECT question FROM polls WHERE message_id = $1", messageID,
	).Scan(&poll.Question)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotAPoll
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT o.option_index, o.text, COUNT(v.user_id)
		FROM poll_options o
		LEFT JOIN poll_votes v ON v.message_id = o.message_id AND v.option_index = o.option_index
		WHERE o.message_id = $1
		GROUP BY o.option_index, o.text
		ORDER BY o.option_index
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var opt domain.PollOption
		if err := rows.Scan(&opt.Index, &opt.Text, &opt.VoteCount); err != nil {
			return nil, err
		}
		poll.Options = append(poll.Options, opt)
	}
	return poll, rows.Err()
}

// GetMessages returns messages in a conversation, newest first, paginated
// by an optional before cursor.
func (r *ConversationRepository) GetMessages(ctx context.Context, convID uuid.UUID, limit int, before *time.Time) ([]domain.Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.type, m.body, m.reply_to,
		       m.created_at, m.edited_at, m.deleted_at,
		       u.id, u.username, u.display_name, u.avatar_url
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1`
	args := []interface{}{convID}
	if before != nil {
		query += " AND m.created_at < $2"
		args = append(args, *before)
	}
	query += " ORDER BY m.created_at DESC LIMIT $" + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var senderUsername, senderDisplayName, senderAvatar *string
		var senderUUID *uuid.UUID
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Body, &m.ReplyTo,
			&m.CreatedAt, &m.EditedAt, &m.DeletedAt,
			&senderUUID, &senderUsername, &senderDisplayName, &senderAvatar,
		); err != nil {
			return nil, err
		}
		if senderUUID != nil {
			m.Sender = &domain.PublicUser{ID: *senderUUID, Username: deref(senderUsername)}
			m.Sender.DisplayName = deref(senderDisplayName)
			m.Sender.AvatarURL = deref(senderAvatar)
		}
		if m.DeletedAt != nil {
			m.Body = ""
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range msgs {
		if err := r.hydrateMessage(ctx, &msgs[i]); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

func (r *ConversationRepository) GetMessage(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, conversation_id, sender_id, type, body, reply_to, created_at, edited_at, deleted_at
		FROM messages WHERE id = $1
	`, messageID).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Body, &m.ReplyTo,
		&m.CreatedAt, &m.EditedAt, &m.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.hydrateMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *ConversationRepository) hydrateMessage(ctx context.Context, m *domain.Message) error {
	if m.Type == domain.MessageTypeMedia {
		atts, err := r.messageAttachments(ctx, m.ID)
		if err != nil {
			return err
		}
		m.Attachments = atts
	}
	if m.Type == domain.MessageTypePoll && m.DeletedAt == nil {
		poll, err := r.getPoll(ctx, m.ID)
		if err != nil && !errors.Is(err, domain.ErrNotAPoll) {
			return err
		}
		m.Poll = poll
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions WHERE message_id = $1
		ORDER BY created_at
	`, m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var re domain.Reaction
		if err := rows.Scan(&re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt); err != nil {
			return err
		}
		m.Reactions = append(m.Reactions, re)
	}
	return rows.Err()
}

func (r *ConversationRepository) messageAttachments(ctx context.Context, messageID uuid.UUID) ([]domain.Attachment, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, uploader_id, message_id, filename, mime_type, size_bytes, object_key, created_at
		FROM attachments WHERE message_id = $1
		ORDER BY created_at
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var atts []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(
			&a.ID, &a.UploaderID, &a.MessageID, &a.Filename,
			&a.MimeType, &a.SizeBytes, &a.ObjectKey, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// UpdateMessage edits a message body. Only the sender may edit.
func (r *ConversationRepository) UpdateMessage(ctx context.Context, messageID, userID uuid.UUID, body string) (*domain.Message, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE messages SET body = $3, edited_at = NOW()
		WHERE id = $1 AND sender_id = $2 AND deleted_at IS NULL
	`, messageID, userID, body)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetMessage(ctx, messageID); err != nil {
			return nil, err
		}
		return nil, domain.ErrNotSender
	}
	return r.GetMessage(ctx, messageID)
}

// DeleteMessage soft-deletes a message. Only the sender may delete.
func (r *ConversationRepository) DeleteMessage(ctx context.Context, messageID, userID uuid.UUID) (*domain.Message, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE messages SET deleted_at = NOW(), body = ''
		WHERE id = $1 AND sender_id = $2 AND deleted_at IS NULL
	`, messageID, userID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetMessage(ctx, messageID); err != nil {
			return nil, err
		}
		return nil, domain.ErrNotSender
	}
	return r.GetMessage(ctx, messageID)
}

func (r *ConversationRepository) AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
	`, messageID, userID, emoji)
	return err
}

func (r *ConversationRepository) RemoveReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) error {
	_, err := r.db.Pool.Exec(ctx, `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3
	`, messageID, userID, emoji)
	return err
}

// MarkMessagesRead upserts read receipts for the given messages and
// returns the affected message IDs grouped by sender, so callers can
// notify each sender. The reader's own messages are skipped.
func (r *ConversationRepository) MarkMessagesRead(ctx context.Context, convID, readerID uuid.UUID, messageIDs []uuid.UUID, readAt time.Time) (map[uuid.UUID][]uuid.UUID, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, sender_id FROM messages
		WHERE conversation_id = $1 AND id = ANY($2)
		  AND sender_id IS NOT NULL AND sender_id <> $3
	`, convID, messageIDs, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySender := make(map[uuid.UUID][]uuid.UUID)
	var valid []uuid.UUID
	for rows.Next() {
		var msgID, senderID uuid.UUID
		if err := rows.Scan(&msgID, &senderID); err != nil {
			return nil, err
		}
		bySender[senderID] = append(bySender[senderID], msgID)
		valid = append(valid, msgID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		return bySender, nil
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO message_receipts (message_id, user_id, read_at)
		SELECT unnest($1::uuid[]), $2, $3
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, valid, readerID, readAt)
	if err != nil {
		return nil, err
	}
	return bySender, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

