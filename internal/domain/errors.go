package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrSelfReference      = errors.New("cannot target yourself")
	ErrAlreadyFriends     = errors.New("already friends")
	ErrNotFriends         = errors.New("user is not your friend")
	ErrChatNotFound       = errors.New("chat not found")
	ErrChatExists         = errors.New("private chat already exists")
	ErrNotParticipant     = errors.New("user is not a participant of this chat")
)
