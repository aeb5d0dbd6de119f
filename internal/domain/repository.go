package domain

import "context"

type UserRepository interface {
	// CreateUser assigns the ID. Fails with ErrUsernameTaken or ErrEmailTaken.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// FriendRepository stores the directed friend relation (user -> friend).
type FriendRepository interface {
	AddFriend(ctx context.Context, userID, friendID UserID) error
	IsFriend(ctx context.Context, userID, friendID UserID) (bool, error)
	ListFriends(ctx context.Context, userID UserID) ([]User, error)
}

type ChatRepository interface {
	// CreateChat assigns the ID and stores the participant set.
	CreateChat(ctx context.Context, chat *Chat) error
	GetChat(ctx context.Context, id ChatID) (*Chat, error)
	// FindPrivateChat returns the private chat between a and b, or ErrChatNotFound.
	FindPrivateChat(ctx context.Context, a, b UserID) (*Chat, error)
	ListChatsByUser(ctx context.Context, userID UserID) ([]Chat, error)
	IsParticipant(ctx context.Context, userID UserID, chatID ChatID) (bool, error)
}

type MessageRepository interface {
	// CreateMessage assigns ID and a server timestamp that strictly increases
	// within a chat.
	CreateMessage(ctx context.Context, senderID UserID, chatID ChatID, content string) (*Message, error)
	// ListMessagesByChat returns the chat history oldest first.
	ListMessagesByChat(ctx context.Context, chatID ChatID) ([]Message, error)
}

// Store is implemented by every storage driver.
type Store interface {
	UserRepository
	FriendRepository
	ChatRepository
	MessageRepository
	Ping(ctx context.Context) error
	Close() error
}
