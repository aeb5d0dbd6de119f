package domain

import (
	"fmt"
	"time"
)

type ChatID int64

// Chat is a conversation with a participant set fixed at creation.
type Chat struct {
	ID           ChatID    `json:"id"`
	Name         string    `json:"name"`
	IsPrivate    bool      `json:"isPrivate"`
	Participants []User    `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewPrivateChat builds the two-party chat between owner and friend.
func NewPrivateChat(owner, friend *User) (*Chat, error) {
	if owner == nil || friend == nil {
		return nil, ErrInvalidInput
	}
	if owner.ID == friend.ID {
		return nil, ErrSelfReference
	}

	return &Chat{
		Name:         fmt.Sprintf("%s - %s", owner.Username, friend.Username),
		IsPrivate:    true,
		Participants: []User{*owner, *friend},
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (c *Chat) HasParticipant(userID UserID) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

func (c *Chat) ParticipantIDs() []UserID {
	ids := make([]UserID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}
