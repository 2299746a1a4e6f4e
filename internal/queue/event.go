// Package queue defines the domain events exchanged over the message broker
// and the publisher/consumer pair that moves them.
package queue

import (
    "time"

    "github.com/google/uuid"
)

// QueueName is the durable queue every connection event is routed to.
const QueueName = "connection.events"

// EventType names what happened.
type EventType string

const (
    RequestSubmitted         EventType = "request.submitted"
    RequestDeclined          EventType = "request.declined"
    ConnectionMutualDetected EventType = "connection.mutual_detected"
    ConnectionAwaitingCoach  EventType = "connection.awaiting_coach"
    ConnectionCoachAssigned  EventType = "connection.coach_assigned"
    ConnectionAwaitingConsent EventType = "connection.awaiting_consent"
    ConnectionPartialConsent EventType = "connection.partial_consent"
    ConnectionShared         EventType = "connection.shared"
    ConnectionRevoked        EventType = "connection.revoked"
    ConnectionDeclined       EventType = "connection.declined"
    MessagePosted            EventType = "message.posted"
    CoachCapacityFreed       EventType = "coach.capacity_freed"
)

// ConnectionEvent is published after a workflow step commits.  It carries
// ids only, never contact values or message bodies, so the broker and the
// notification log hold no disclosed data.
type ConnectionEvent struct {
    ID           string    `json:"id"`
    Type         EventType `json:"type"`
    ConnectionID uint64    `json:"connection_id,omitempty"`
    RequestID    uint64    `json:"request_id,omitempty"`
    EventID      uint64    `json:"event_id,omitempty"` // the in-person event
    ActorID      uint64    `json:"actor_id,omitempty"`
    CoachID      uint64    `json:"coach_id,omitempty"`
    NotifyIDs    []uint64  `json:"notify_ids,omitempty"`
    Status       string    `json:"status,omitempty"`
    Detail       string    `json:"detail,omitempty"`
    OccurredAt   string    `json:"occurred_at"`
}

// NewEvent stamps a fresh event id and timestamp.
func NewEvent(t EventType, at time.Time) ConnectionEvent {
    return ConnectionEvent{
        ID:         uuid.NewString(),
        Type:       t,
        OccurredAt: at.UTC().Format(time.RFC3339),
    }
}
