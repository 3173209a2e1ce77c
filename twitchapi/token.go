// Package twitchapi supplies the access token the chat link logs in with.
//
// A token is either a long-lived static value (TWITCH_OAUTH_TOKEN) or minted
// from a refresh token through the Twitch OAuth endpoint. The chat link asks
// for a token on every (re)connect, so a refreshed token is picked up
// without restarting the process.
package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ChatTokenSource yields the bot user's chat access token without the
// "oauth:" IRC prefix.
type ChatTokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed user access token.
type StaticToken string

// Token implements ChatTokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	tok := strings.TrimPrefix(strings.TrimSpace(string(s)), "oauth:")
	if tok == "" {
		return "", errors.New("empty twitch chat token")
	}
	return tok, nil
}

// RefreshingToken mints chat tokens from a refresh token with the
// refresh_token grant. The current token is reused while it is valid.
// NOTE: the token must belong to the bot user and carry chat:read and
// chat:edit scopes; an app access token cannot log in to chat.
type RefreshingToken struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// Endpoint defaults to the Twitch OAuth endpoint.
	Endpoint   oauth2.Endpoint
	HTTPClient *http.Client

	mu      sync.Mutex
	current *oauth2.Token
}

// Token implements ChatTokenSource.
func (r *RefreshingToken) Token(ctx context.Context) (string, error) {
	if r.ClientID == "" || r.ClientSecret == "" || r.RefreshToken == "" {
		return "", errors.New("missing client id/secret/refresh token for twitch chat token")
	}
	ep := r.Endpoint
	if ep.TokenURL == "" {
		ep = endpoints.Twitch
	}
	cfg := &oauth2.Config{ClientID: r.ClientID, ClientSecret: r.ClientSecret, Endpoint: ep}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	seed := r.current
	if seed == nil {
		seed = &oauth2.Token{RefreshToken: r.RefreshToken}
	}
	tok, err := cfg.TokenSource(ctx, seed).Token()
	if err != nil {
		return "", fmt.Errorf("twitch token refresh failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	if r.current == nil || r.current.AccessToken != tok.AccessToken {
		slog.Info("twitch chat token refreshed", slog.Time("expires_at", tok.Expiry), slog.String("component", "twitchapi"))
	}
	r.current = tok
	return tok.AccessToken, nil
}

// NewChatTokenSource prefers the refresh-token flow when its credentials are
// complete and falls back to the static token.
func NewChatTokenSource(clientID, clientSecret, refreshToken, static string) (ChatTokenSource, error) {
	if clientID != "" && clientSecret != "" && refreshToken != "" {
		return &RefreshingToken{ClientID: clientID, ClientSecret: clientSecret, RefreshToken: refreshToken}, nil
	}
	if strings.TrimSpace(static) != "" {
		return StaticToken(static), nil
	}
	return nil, errors.New("no twitch chat credentials: set TWITCH_OAUTH_TOKEN or TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET/TWITCH_REFRESH_TOKEN")
}
