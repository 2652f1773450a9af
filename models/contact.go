// ABOUTME: Contact shapes flowing through a rollup run
// ABOUTME: Raw provider records, canonical contacts, prepared contacts, and write requests
package models

import "time"

// RawContact is a provider record as returned by an adapter's listing call.
// Each provider has its own concrete variant; only the adapter that produced
// a record knows how to normalize it.
type RawContact interface {
	RecordID() string
	Provider() string
}

// CanonicalContact is a raw record after provider specific field extraction.
type CanonicalContact struct {
	ID        string     `json:"id"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	AddedAt   *time.Time `json:"added_at,omitempty"`
}

// PageRequest asks an adapter for one page of contacts.
type PageRequest struct {
	Cursor string
	Limit  int
}

// ContactPage is one page of raw contacts plus the cursor metadata the
// provider returned, if any.
type ContactPage struct {
	Records    []RawContact
	NextCursor string
	// Final is set when the provider says this is the last page, so no
	// cursor should be derived from the last record.
	Final bool
}

// Dedupe key prefixes.
const (
	DedupeKeyEmail = "email:"
	DedupeKeyPhone = "phone:"
)

// PreparedContact is a validated, deduplicated contact ready for the target.
type PreparedContact struct {
	DedupeKey         string   `json:"dedupe_key"`
	FirstName         string   `json:"first_name,omitempty"`
	LastName          string   `json:"last_name,omitempty"`
	Name              string   `json:"name,omitempty"`
	Email             string   `json:"email,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	SourceAccountKeys []string `json:"source_account_keys"`
}

// Merge folds other into c. Scalars keep the first non-empty value, tags and
// source keys are unioned.
func (c *PreparedContact) Merge(other PreparedContact) {
	c.FirstName = firstNonEmpty(c.FirstName, other.FirstName)
	c.LastName = firstNonEmpty(c.LastName, other.LastName)
	c.Name = firstNonEmpty(c.Name, other.Name)
	c.Email = firstNonEmpty(c.Email, other.Email)
	c.Phone = firstNonEmpty(c.Phone, other.Phone)
	c.Tags = UnionStrings(c.Tags, other.Tags)
	c.SourceAccountKeys = UnionStrings(c.SourceAccountKeys, other.SourceAccountKeys)
}

// Clone returns a copy that shares no slices with c.
func (c PreparedContact) Clone() PreparedContact {
	c.Tags = append([]string(nil), c.Tags...)
	c.SourceAccountKeys = append([]string(nil), c.SourceAccountKeys...)
	return c
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// UnionStrings appends the members of b missing from a, keeping first-seen order.
func UnionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// BodyShape selects the request body layout used for a target upsert.
type BodyShape int

const (
	// BodyShapeFlat sends contact fields at the top level of the body.
	BodyShapeFlat BodyShape = iota
	// BodyShapeWrapped nests contact fields under a "contact" object.
	BodyShapeWrapped
)

func (s BodyShape) String() string {
	if s == BodyShapeWrapped {
		return "wrapped"
	}
	return "flat"
}

// UpsertRequest is the idempotent write sent to the target account. The
// provider matches on Email, falling back to Phone.
type UpsertRequest struct {
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Name      string   `json:"name,omitempty"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Tags      []string `json:"tags"`
}
