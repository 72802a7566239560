package service

import "errors"

// Domain outcomes surfaced to the transport layer. These are results of an
// operation, not infrastructure failures; handlers map them to status codes.
var (
	ErrChatNotFound = errors.New("chat does not exist")
	ErrNotMember    = errors.New("user is not a member of this chat")
	ErrUserNotFound = errors.New("user does not exist")
	ErrEmailTaken   = errors.New("a user with this email already exists")

	ErrTooManyParticipants = errors.New("too many users for a single operation")
	ErrNoParticipants      = errors.New("no users provided")

	ErrInvalidCredentials = errors.New("invalid email or password")
)
