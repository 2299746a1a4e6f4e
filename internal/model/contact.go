package model

import (
    "fmt"
    "sort"
    "strings"
)

// ContactField names a piece of contact information a party may disclose.
type ContactField string

const (
    FieldEmail  ContactField = "email"
    FieldPhone  ContactField = "phone"
    FieldSocial ContactField = "social"
)

var knownFields = map[ContactField]int{FieldEmail: 0, FieldPhone: 1, FieldSocial: 2}

// FieldSet is a deduplicated, canonically ordered set of contact fields.
type FieldSet []ContactField

// NewFieldSet validates and normalises raw field names.  Unknown names are
// rejected; duplicates collapse.
func NewFieldSet(raw ...string) (FieldSet, error) {
    seen := make(map[ContactField]bool, len(raw))
    out := make(FieldSet, 0, len(raw))
    for _, r := range raw {
        f := ContactField(strings.ToLower(strings.TrimSpace(r)))
        if _, ok := knownFields[f]; !ok {
            return nil, fmt.Errorf("unknown contact field %q", r)
        }
        if !seen[f] {
            seen[f] = true
            out = append(out, f)
        }
    }
    sort.Slice(out, func(i, j int) bool { return knownFields[out[i]] < knownFields[out[j]] })
    return out, nil
}

// ParseFieldSet decodes the comma-separated column form.  An empty string
// is the empty set.
func ParseFieldSet(s string) (FieldSet, error) {
    if strings.TrimSpace(s) == "" {
        return FieldSet{}, nil
    }
    return NewFieldSet(strings.Split(s, ",")...)
}

// String encodes the set in its column form.
func (fs FieldSet) String() string {
    parts := make([]string, len(fs))
    for i, f := range fs {
        parts[i] = string(f)
    }
    return strings.Join(parts, ",")
}

// Has reports whether f is in the set.
func (fs FieldSet) Has(f ContactField) bool {
    for _, x := range fs {
        if x == f {
            return true
        }
    }
    return false
}

// ContactPayload is what one party sees of the other after disclosure:
// exactly the fields the other party opted to share, keyed by field name.
type ContactPayload struct {
    ConnectionID uint64                  `json:"connection_id"`
    OwnerID      uint64                  `json:"owner_id"`
    Fields       map[ContactField]string `json:"fields"`
}
