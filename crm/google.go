// ABOUTME: Google People API adapter for reading Google Contacts as a rollup source
// ABOUTME: Read only; Google accounts cannot be used as a rollup target
package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/rollupsync/models"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"
)

const (
	googlePersonFields = "names,emailAddresses,phoneNumbers,memberships,metadata"
	// Google caps connections.list pages at 1000.
	googleMaxPageSize = 1000
	// Every contact belongs to this system group, so it carries no signal.
	googleAllContactsGroup = "myContacts"
)

// GooglePerson is a People API person as returned by connections.list.
type GooglePerson struct {
	Person *people.Person
}

func (p GooglePerson) RecordID() string {
	if p.Person == nil {
		return ""
	}
	return p.Person.ResourceName
}

func (p GooglePerson) Provider() string { return models.ProviderGoogle }

// GoogleAdapter lists the authenticated user's Google Contacts.
type GoogleAdapter struct {
	service *people.Service
}

// NewGoogleAdapter wraps an authenticated People service.
func NewGoogleAdapter(service *people.Service) *GoogleAdapter {
	return &GoogleAdapter{service: service}
}

// NewPeopleService creates an authenticated People API service for token.
func NewPeopleService(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (*people.Service, error) {
	if token == nil {
		return nil, fmt.Errorf("token cannot be nil")
	}

	client := config.Client(ctx, token)
	service, err := people.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create People service: %w", err)
	}
	return service, nil
}

// ListContacts fetches one page of connections. The page token is the cursor.
func (a *GoogleAdapter) ListContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error) {
	pageSize := int64(req.Limit)
	if pageSize < 1 || pageSize > googleMaxPageSize {
		pageSize = googleMaxPageSize
	}

	call := a.service.People.Connections.List("people/me").
		PageSize(pageSize).
		PersonFields(googlePersonFields).
		Context(ctx)
	if req.Cursor != "" {
		call = call.PageToken(req.Cursor)
	}

	resp, err := call.Do()
	if err != nil {
		return models.ContactPage{}, fromGoogleError(err)
	}

	// Google never accepts a resource name as a page token, so an empty
	// token is always the end of the listing.
	page := models.ContactPage{NextCursor: resp.NextPageToken, Final: resp.NextPageToken == ""}
	for _, person := range resp.Connections {
		if person == nil {
			continue
		}
		page.Records = append(page.Records, GooglePerson{Person: person})
	}
	return page, nil
}

// NormalizeContact extracts canonical fields from a GooglePerson.
func (a *GoogleAdapter) NormalizeContact(raw models.RawContact) models.CanonicalContact {
	gp, ok := raw.(GooglePerson)
	if !ok || gp.Person == nil {
		return models.CanonicalContact{ID: raw.RecordID()}
	}
	person := gp.Person

	first, last, display := googleNames(person)
	return models.CanonicalContact{
		ID:        person.ResourceName,
		FirstName: first,
		LastName:  last,
		Name:      display,
		Email:     googlePrimaryEmail(person),
		Phone:     googlePrimaryPhone(person),
		Tags:      googleGroupTags(person),
		AddedAt:   googleAddedAt(person),
	}
}

// googleNames returns the primary name, else the first one.
func googleNames(person *people.Person) (first, last, display string) {
	var chosen *people.Name
	for _, name := range person.Names {
		if name == nil {
			continue
		}
		if chosen == nil {
			chosen = name
		}
		if name.Metadata != nil && name.Metadata.Primary {
			chosen = name
			break
		}
	}
	if chosen == nil {
		return "", "", ""
	}
	return strings.TrimSpace(chosen.GivenName), strings.TrimSpace(chosen.FamilyName), strings.TrimSpace(chosen.DisplayName)
}

// googlePrimaryEmail prefers the primary email, otherwise the first available.
func googlePrimaryEmail(person *people.Person) string {
	email := ""
	for _, addr := range person.EmailAddresses {
		if addr == nil || addr.Value == "" {
			continue
		}
		if email == "" {
			email = addr.Value
		}
		if addr.Metadata != nil && addr.Metadata.Primary {
			email = addr.Value
			break
		}
	}
	return strings.TrimSpace(email)
}

// googlePrimaryPhone prefers the primary phone and its canonical E.164 form.
func googlePrimaryPhone(person *people.Person) string {
	phone := ""
	for _, number := range person.PhoneNumbers {
		if number == nil {
			continue
		}
		value := number.CanonicalForm
		if value == "" {
			value = number.Value
		}
		if value == "" {
			continue
		}
		if phone == "" {
			phone = value
		}
		if number.Metadata != nil && number.Metadata.Primary {
			phone = value
			break
		}
	}
	return strings.TrimSpace(phone)
}

// googleGroupTags turns contact group memberships into tags.
func googleGroupTags(person *people.Person) []string {
	var tags []string
	for _, membership := range person.Memberships {
		if membership == nil || membership.ContactGroupMembership == nil {
			continue
		}
		group := membership.ContactGroupMembership
		id := group.ContactGroupId
		if id == "" {
			id = strings.TrimPrefix(group.ContactGroupResourceName, "contactGroups/")
		}
		if id == "" || id == googleAllContactsGroup {
			continue
		}
		tags = append(tags, id)
	}
	return tags
}

// googleAddedAt is the earliest source update time. People API has no
// creation time for connections.
func googleAddedAt(person *people.Person) *time.Time {
	if person.Metadata == nil {
		return nil
	}
	var earliest *time.Time
	for _, source := range person.Metadata.Sources {
		if source == nil || source.UpdateTime == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, source.UpdateTime)
		if err != nil {
			continue
		}
		t = t.UTC()
		if earliest == nil || t.Before(*earliest) {
			earliest = &t
		}
	}
	return earliest
}
