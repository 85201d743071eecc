package chat

import "time"

// Session captures one widget page session.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	PersonaID string    `json:"personaId"`
	CreatedAt time.Time `json:"createdAt"`
}
