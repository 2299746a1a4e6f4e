package model

import (
    "fmt"
    "time"
)

// RequestStatus is the lifecycle state of a ConnectionRequest.
type RequestStatus string

const (
    // RequestPending waits for a reciprocal request or the recipient's answer.
    RequestPending RequestStatus = "pending_reciprocal"
    // RequestMatched was paired with a reciprocal request.
    RequestMatched RequestStatus = "matched"
    // RequestAccepted was accepted one-way by its recipient.
    RequestAccepted RequestStatus = "accepted"
    // RequestDeclined was refused by its recipient; the pair is blocked for the event.
    RequestDeclined RequestStatus = "declined"
    // RequestWithdrawn is the requester's tombstone.
    RequestWithdrawn RequestStatus = "withdrawn"
)

// ConnectionRequest is one user's interest in staying in touch with another
// user they met at an event.  Rows are never edited in place beyond the
// status/resolution columns; a withdrawal leaves the row as a tombstone.
//
// Fields:
//  ID          – primary key identifier.
//  RequesterID – user expressing interest.
//  RecipientID – user the interest is addressed to.
//  EventID     – event where both attended.
//  Note        – optional "what we talked about".
//  Status      – see RequestStatus.
//  CreatedAt   – creation timestamp.
//  ResolvedAt  – when the request left RequestPending (nullable).
type ConnectionRequest struct {
    ID          uint64        `json:"id"`
    RequesterID uint64        `json:"requester_id"`
    RecipientID uint64        `json:"recipient_id"`
    EventID     uint64        `json:"event_id"`
    Note        string        `json:"note,omitempty"`
    Status      RequestStatus `json:"status"`
    CreatedAt   time.Time     `json:"created_at"`
    ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// ActiveKey is the uniqueness key held by a pending request, one per
// (requester, recipient, event) triple.
func ActiveKey(requesterID, recipientID, eventID uint64) string {
    return fmt.Sprintf("%d:%d:%d", eventID, requesterID, recipientID)
}
