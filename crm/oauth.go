// ABOUTME: OAuth configuration for Google source accounts
// ABOUTME: Tokens are stored per account in the credentials column as JSON
package crm

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleContactsScope is the only scope a Google source account needs.
const GoogleContactsScope = "https://www.googleapis.com/auth/contacts.readonly"

// NewOAuthConfig creates the OAuth2 config for Google source accounts.
func NewOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "http://localhost:8080/oauth/callback",
		Scopes:       []string{GoogleContactsScope},
		Endpoint:     google.Endpoint,
	}
}

// ParseGoogleToken decodes an OAuth token stored in account credentials.
func ParseGoogleToken(credentials string) (*oauth2.Token, error) {
	credentials = strings.TrimSpace(credentials)
	if credentials == "" {
		return nil, fmt.Errorf("no OAuth token stored for account")
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(credentials), &token); err != nil {
		return nil, fmt.Errorf("failed to decode OAuth token: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("OAuth token has neither access nor refresh token")
	}
	return &token, nil
}

// EncodeGoogleToken encodes token for storage in account credentials.
func EncodeGoogleToken(token *oauth2.Token) (string, error) {
	if token == nil {
		return "", fmt.Errorf("token cannot be nil")
	}
	data, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("failed to encode OAuth token: %w", err)
	}
	return string(data), nil
}

// restCredentials is the JSON form of REST account credentials.
type restCredentials struct {
	Token string `json:"token"`
}

// ParseRestToken accepts either {"token": "..."} or a bare token string.
func ParseRestToken(credentials string) (string, error) {
	credentials = strings.TrimSpace(credentials)
	if credentials == "" {
		return "", fmt.Errorf("no API token stored for account")
	}
	if strings.HasPrefix(credentials, "{") {
		var creds restCredentials
		if err := json.Unmarshal([]byte(credentials), &creds); err != nil {
			return "", fmt.Errorf("failed to decode API credentials: %w", err)
		}
		if strings.TrimSpace(creds.Token) == "" {
			return "", fmt.Errorf("API credentials have no token")
		}
		return strings.TrimSpace(creds.Token), nil
	}
	return credentials, nil
}
