package model

import "time"

// Attendee records that a user was physically present at an event.  Rows
// are written by the check-in feed and never change afterwards.
type Attendee struct {
    ID          uint64    `json:"id"`           // attendees.id
    EventID     uint64    `json:"event_id"`     // attendees.event_id
    UserID      uint64    `json:"user_id"`      // attendees.user_id
    ConfirmedAt time.Time `json:"confirmed_at"` // attendees.confirmed_at
}
