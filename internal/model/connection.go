package model

import (
    "fmt"
    "time"
)

// ConnectionStatus is a position in the connection lattice.
type ConnectionStatus string

const (
    StatusMutualDetected  ConnectionStatus = "mutual_detected"
    StatusAwaitingCoach   ConnectionStatus = "awaiting_coach"
    StatusCoachReviewing  ConnectionStatus = "coach_reviewing"
    StatusAwaitingConsent ConnectionStatus = "awaiting_consent"
    StatusPartialConsent  ConnectionStatus = "partial_consent"
    StatusShared          ConnectionStatus = "shared"
    StatusRevoked         ConnectionStatus = "revoked"
    StatusDeclined        ConnectionStatus = "declined"
)

// transitions lists every permitted edge.  Each edge strictly increases
// rank, so no sequence of transitions can move a connection backwards.
var transitions = map[ConnectionStatus][]ConnectionStatus{
    StatusMutualDetected:  {StatusAwaitingCoach, StatusCoachReviewing},
    StatusAwaitingCoach:   {StatusCoachReviewing},
    StatusCoachReviewing:  {StatusAwaitingConsent, StatusDeclined},
    StatusAwaitingConsent: {StatusPartialConsent, StatusRevoked},
    StatusPartialConsent:  {StatusShared, StatusRevoked},
}

var rank = map[ConnectionStatus]int{
    StatusMutualDetected:  0,
    StatusAwaitingCoach:   1,
    StatusCoachReviewing:  2,
    StatusAwaitingConsent: 3,
    StatusPartialConsent:  4,
    StatusShared:          5,
    StatusRevoked:         5,
    StatusDeclined:        5,
}

// Rank orders statuses along the lattice.  Terminal statuses share the top rank.
func (s ConnectionStatus) Rank() int { return rank[s] }

// Valid reports whether s is a known status.
func (s ConnectionStatus) Valid() bool {
    _, ok := rank[s]
    return ok
}

// IsTerminal reports whether no transition leaves s.
func (s ConnectionStatus) IsTerminal() bool {
    return s == StatusShared || s == StatusRevoked || s == StatusDeclined
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to ConnectionStatus) bool {
    for _, next := range transitions[from] {
        if next == to {
            return true
        }
    }
    return false
}

// MessagingOpen reports whether relay messages may be posted in s.
func (s ConnectionStatus) MessagingOpen() bool {
    return s.Valid() && s != StatusRevoked && s != StatusDeclined
}

// SortPair orders two user ids so that the lower id is party A.
func SortPair(x, y uint64) (a, b uint64) {
    if x < y {
        return x, y
    }
    return y, x
}

// PairKey identifies the unordered pair of users at one event.
func PairKey(x, y, eventID uint64) string {
    a, b := SortPair(x, y)
    return fmt.Sprintf("%d:%d:%d", eventID, a, b)
}

// Connection is the bidirectional entity created once mutual interest is
// established.  PartyAID is always the lower user id.  InitialRequestID is
// the first request filed for the pair; ReciprocalRequestID is the
// counterpart's request, nil when the connection came from a one-way
// acceptance.  Per-party consent is the chosen FieldSet plus the time it
// was recorded.
type Connection struct {
    ID                  uint64           `json:"id"`
    PairKey             string           `json:"-"`
    EventID             uint64           `json:"event_id"`
    PartyAID            uint64           `json:"party_a_id"`
    PartyBID            uint64           `json:"party_b_id"`
    InitialRequestID    uint64           `json:"initial_request_id"`
    ReciprocalRequestID *uint64          `json:"reciprocal_request_id,omitempty"`
    Status              ConnectionStatus `json:"status"`
    CoachID             *uint64          `json:"coach_id,omitempty"`
    CoachIntroduction   string           `json:"coach_introduction,omitempty"`
    PartyAFields        FieldSet         `json:"-"`
    PartyAConsentedAt   *time.Time       `json:"party_a_consented_at,omitempty"`
    PartyBFields        FieldSet         `json:"-"`
    PartyBConsentedAt   *time.Time       `json:"party_b_consented_at,omitempty"`
    Version             uint64           `json:"-"`
    CreatedAt           time.Time        `json:"created_at"`
    AssignedAt          *time.Time       `json:"assigned_at,omitempty"`
    IntroducedAt        *time.Time       `json:"introduced_at,omitempty"`
    SharedAt            *time.Time       `json:"shared_at,omitempty"`
    RevokedAt           *time.Time       `json:"revoked_at,omitempty"`
    RevokedBy           *uint64          `json:"revoked_by,omitempty"`
    DeclinedAt          *time.Time       `json:"declined_at,omitempty"`
    UpdatedAt           time.Time        `json:"updated_at"`
}

// IsParty reports whether userID is one of the two parties.
func (c *Connection) IsParty(userID uint64) bool {
    return userID == c.PartyAID || userID == c.PartyBID
}

// IsCoach reports whether userID is the assigned coach.
func (c *Connection) IsCoach(userID uint64) bool {
    return c.CoachID != nil && *c.CoachID == userID
}

// Counterpart returns the other party's id.  The caller must have checked IsParty.
func (c *Connection) Counterpart(userID uint64) uint64 {
    if userID == c.PartyAID {
        return c.PartyBID
    }
    return c.PartyAID
}

// HasConsented reports whether the party has recorded consent.
func (c *Connection) HasConsented(userID uint64) bool {
    if userID == c.PartyAID {
        return c.PartyAConsentedAt != nil
    }
    return c.PartyBConsentedAt != nil
}

// FieldsOf returns the field set the party chose to share.
func (c *Connection) FieldsOf(userID uint64) FieldSet {
    if userID == c.PartyAID {
        return c.PartyAFields
    }
    return c.PartyBFields
}
