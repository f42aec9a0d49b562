package security

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2BearerStrategy validates an opaque bearer token by calling a
// configured token-introspection endpoint (RFC 7662 shape), rather than
// verifying a self-contained JWT. It is the resource-server half of
// OAuth2: the server only ever checks an already-issued token, it never
// runs an authorization-code exchange.
type OAuth2BearerStrategy struct {
	introspectionURL string
	httpClient       *http.Client
}

// NewOAuth2BearerStrategy builds a strategy that calls introspectionURL
// using clientCredentials to authenticate the introspection call itself
// (the resource server's own credential, not the end user's token).
func NewOAuth2BearerStrategy(introspectionURL string, clientCredentials oauth2.TokenSource) *OAuth2BearerStrategy {
	return &OAuth2BearerStrategy{
		introspectionURL: introspectionURL,
		httpClient: &http.Client{
			Transport: &oauth2.Transport{Source: clientCredentials, Base: http.DefaultTransport},
			Timeout:   10 * time.Second,
		},
	}
}

type introspectionResponse struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub"`
	Scope    string `json:"scope"`
	Username string `json:"username"`
}

func (s *OAuth2BearerStrategy) Authenticate(req *Request) (*User, bool) {
	token := bearerToken(req)
	if token == "" {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	form := url.Values{"token": {token}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.introspectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	var ir introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, false
	}
	if !ir.Active {
		return nil, false
	}

	id := ir.Subject
	if id == "" {
		id = ir.Username
	}
	if id == "" {
		return nil, false
	}
	return &User{ID: id, Extra: map[string]any{"scope": ir.Scope}}, true
}
