package model

import "time"

// Coach is a facilitator with a cap on concurrently assigned connections.
// ActiveLoad counts assigned connections that have not reached a terminal
// status; it never exceeds Capacity.
type Coach struct {
    UserID         uint64    `json:"user_id"`        // coaches.user_id
    DisplayName    string    `json:"display_name"`   // users.display_name
    Specialization string    `json:"specialization"` // coaches.specialization
    Capacity       int       `json:"capacity"`       // coaches.capacity
    ActiveLoad     int       `json:"active_load"`    // coaches.active_load
    CreatedAt      time.Time `json:"created_at"`     // coaches.created_at
}

// HasCapacity reports whether one more connection can be assigned.
func (c Coach) HasCapacity() bool { return c.ActiveLoad < c.Capacity }
