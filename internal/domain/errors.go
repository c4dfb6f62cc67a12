package domain

import "errors"

// Sentinel errors shared across the repository and handler layers. Handlers
// map these to HTTP statuses; the database layer translates driver errors
// into them so nothing above it imports pgx.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")

	ErrTokenExpired = errors.New("token has expired")
	ErrTokenRevoked = errors.New("token has been revoked")
	ErrTokenInvalid = errors.New("invalid token")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotMember            = errors.New("not a member of this conversation")
	ErrAlreadyMember        = errors.New("already a member")

	ErrMessageNotFound = errors.New("message not found")
	ErrNotSender       = errors.New("only the sender can modify a message")
	ErrNotAPoll        = errors.New("message has no poll")
	ErrInvalidOption   = errors.New("poll option does not exist")

	ErrAttachmentNotFound = errors.New("attachment not found")
)
