package model

import "time"

// ConnectionMessage is one relay message.  Messages are immutable and
// always visible to the assigned coach.
type ConnectionMessage struct {
    ID           uint64    `json:"id"`
    ConnectionID uint64    `json:"connection_id"`
    SenderID     uint64    `json:"sender_id"`
    Body         string    `json:"body"`
    CoachVisible bool      `json:"coach_visible"`
    SentAt       time.Time `json:"sent_at"`
}
