package repo

import (
	"context"
	"time"
)

// Directions of a journaled message.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// MessageRecord is one journaled chat message.
type MessageRecord struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	UserID    string    `json:"user_id"`
	Direction string    `json:"direction"`
	Type      string    `json:"message_type"`
	Content   *string   `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal records chat traffic. Both SQL repositories implement it.
type Journal interface {
	InsertMessage(ctx context.Context, msg MessageRecord) error
}
