// ABOUTME: Email and phone normalization, validation, and dedupe key derivation
// ABOUTME: Dedupe keys come only from normalized identifiers that passed validation
package rollup

import (
	"regexp"
	"strings"

	"github.com/harperreed/rollupsync/models"
	"github.com/nyaruka/phonenumbers"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[a-z]{2,}$`)

// normalizeEmail converts email to lowercase for comparison.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidEmail(normalized string) bool {
	return normalized != "" && emailPattern.MatchString(normalized)
}

// normalizePhone returns the E.164 form of phone and whether it is a valid
// number. Unparseable input comes back trimmed so callers can still carry it.
func normalizePhone(phone, defaultRegion string) (string, bool) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", false
	}
	num, err := phonenumbers.Parse(phone, defaultRegion)
	if err != nil {
		return phone, false
	}
	if !phonenumbers.IsValidNumber(num) {
		return phone, false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

// identity is the result of normalizing a contact's identifiers.
type identity struct {
	Email     string
	Phone     string
	DedupeKey string
}

// resolveIdentity normalizes email and phone, discards invalid values when
// scrubbing is on, and derives the dedupe key, preferring email. An empty
// DedupeKey means the contact has no usable identifier.
func resolveIdentity(email, phone string, scrubEmails, scrubPhones bool, region string) identity {
	var id identity

	id.Email = normalizeEmail(email)
	emailOK := isValidEmail(id.Email)
	if !emailOK && scrubEmails {
		id.Email = ""
	}

	var phoneOK bool
	id.Phone, phoneOK = normalizePhone(phone, region)
	if !phoneOK && scrubPhones {
		id.Phone = ""
	}

	switch {
	case emailOK:
		id.DedupeKey = models.DedupeKeyEmail + id.Email
	case phoneOK:
		id.DedupeKey = models.DedupeKeyPhone + id.Phone
	}
	return id
}
