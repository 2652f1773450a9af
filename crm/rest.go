// ABOUTME: HTTP adapter for REST-style CRM accounts
// ABOUTME: Lists, searches, upserts, and deletes contacts with bearer token auth
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harperreed/rollupsync/models"
)

// RestOptions configures a RestAdapter.
type RestOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	UserAgent  string
}

// RestAdapter talks to one account of a REST CRM. Each call is a single
// attempt; retries belong to the caller's retry policy.
type RestAdapter struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
}

// NewRestAdapter creates an adapter for the account at opts.BaseURL.
func NewRestAdapter(opts RestOptions) (*RestAdapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("rest adapter requires a base URL")
	}
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, fmt.Errorf("rest adapter requires an API token")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "rollupsync"
	}
	return &RestAdapter{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		userAgent:  userAgent,
	}, nil
}

// RestContact is a contact record as the REST CRM returns it.
type RestContact struct {
	ID          string   `json:"id"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	ContactName string   `json:"contactName"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	Tags        []string `json:"tags"`
	DateAdded   string   `json:"dateAdded"`
}

func (c RestContact) RecordID() string { return c.ID }
func (c RestContact) Provider() string { return models.ProviderREST }

// restPageMeta is the paging metadata of a list or search response. Newer
// API versions send nextCursor; older ones only send startAfterId.
type restPageMeta struct {
	NextCursor   string `json:"nextCursor"`
	StartAfterID string `json:"startAfterId"`
}

type restListResponse struct {
	Contacts []RestContact `json:"contacts"`
	Meta     restPageMeta  `json:"meta"`
}

type restSearchRequest struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit"`
}

type restWrappedUpsert struct {
	Contact models.UpsertRequest `json:"contact"`
}

// ListContacts fetches one page from GET /contacts.
func (a *RestAdapter) ListContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(req.Limit))
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}

	var resp restListResponse
	if err := a.do(ctx, http.MethodGet, "/contacts?"+query.Encode(), nil, &resp); err != nil {
		return models.ContactPage{}, err
	}
	return resp.page(), nil
}

// SearchContacts fetches one page from POST /contacts/search.
func (a *RestAdapter) SearchContacts(ctx context.Context, req models.PageRequest) (models.ContactPage, error) {
	var resp restListResponse
	body := restSearchRequest{Cursor: req.Cursor, Limit: req.Limit}
	if err := a.do(ctx, http.MethodPost, "/contacts/search", body, &resp); err != nil {
		return models.ContactPage{}, err
	}
	return resp.page(), nil
}

// UpsertContact sends an idempotent upsert to POST /contacts/upsert.
func (a *RestAdapter) UpsertContact(ctx context.Context, req models.UpsertRequest, shape models.BodyShape) error {
	var body any = req
	if shape == models.BodyShapeWrapped {
		body = restWrappedUpsert{Contact: req}
	}
	return a.do(ctx, http.MethodPost, "/contacts/upsert", body, nil)
}

// DeleteContact removes one contact with DELETE /contacts/{id}.
func (a *RestAdapter) DeleteContact(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/contacts/"+url.PathEscape(id), nil, nil)
}

// NormalizeContact extracts canonical fields from a RestContact.
func (a *RestAdapter) NormalizeContact(raw models.RawContact) models.CanonicalContact {
	rc, ok := raw.(RestContact)
	if !ok {
		return models.CanonicalContact{ID: raw.RecordID()}
	}
	return models.CanonicalContact{
		ID:        rc.ID,
		FirstName: strings.TrimSpace(rc.FirstName),
		LastName:  strings.TrimSpace(rc.LastName),
		Name:      restDisplayName(rc),
		Email:     strings.TrimSpace(rc.Email),
		Phone:     strings.TrimSpace(rc.Phone),
		Tags:      restTags(rc),
		AddedAt:   restAddedAt(rc),
	}
}

func (r restListResponse) page() models.ContactPage {
	page := models.ContactPage{NextCursor: restNextCursor(r.Meta)}
	for _, c := range r.Contacts {
		page.Records = append(page.Records, c)
	}
	return page
}

// restNextCursor prefers the explicit cursor over the legacy start-after id.
func restNextCursor(meta restPageMeta) string {
	if cursor := strings.TrimSpace(meta.NextCursor); cursor != "" {
		return cursor
	}
	return strings.TrimSpace(meta.StartAfterID)
}

// restDisplayName uses the provider's full name, else joins first and last.
func restDisplayName(c RestContact) string {
	if name := strings.TrimSpace(c.ContactName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

func restTags(c RestContact) []string {
	var tags []string
	for _, tag := range c.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// restAddedAt parses dateAdded as RFC 3339 or as unix milliseconds.
func restAddedAt(c RestContact) *time.Time {
	value := strings.TrimSpace(c.DateAdded)
	if value == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		t = t.UTC()
		return &t
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	return nil
}

func (a *RestAdapter) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, respBody)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
