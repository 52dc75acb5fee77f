package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/ports"
	"golang.org/x/oauth2"
	githubendpoint "golang.org/x/oauth2/github"
)

const (
	DefaultAPIURL = "https://api.github.com"
	// DefaultTimeout bounds one whole code exchange, token and profile together
	DefaultTimeout = 10 * time.Second

	maxProfileBytes = 1 << 20
)

// Config configures the GitHub OAuth app
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// APIURL defaults to DefaultAPIURL
	APIURL string
	// Endpoint defaults to github.com OAuth endpoints
	Endpoint *oauth2.Endpoint
	// Timeout defaults to DefaultTimeout
	Timeout time.Duration
}

// Provider implements ports.IdentityProvider for GitHub
type Provider struct {
	oauth  *oauth2.Config
	apiURL  string
	client  *http.Client
	timeout time.Duration
}

// user is the subset of GET /user we care about. ID is a pointer so a
// missing id can be told apart from zero.
type user struct {
	ID        *int64 `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	Name      string `json:"name"`
}

// NewProvider creates a GitHub identity provider
func NewProvider(cfg Config) ports.IdentityProvider {
	endpoint := githubendpoint.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiURL:  strings.TrimRight(apiURL, "/"),
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// AuthorizeURL returns the GitHub consent page URL carrying state
func (p *Provider) AuthorizeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeCode swaps code for a token and fetches the user's profile.
// The token is used for this single request only.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*core.IdentityAssertion, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", core.ErrUpstreamAuth)
	}

	// oauth2's authorised client drops Timeout, so the deadline rides on ctx too
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", core.ErrUpstreamAuth, err)
	}
	if errCode, _ := token.Extra("error").(string); errCode != "" {
		return nil, fmt.Errorf("%w: token exchange: %s", core.ErrUpstreamAuth, errCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstreamAuth, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: profile fetch: %v", core.ErrUpstreamAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: profile fetch status %d", core.ErrUpstreamAuth, resp.StatusCode)
	}

	var u user
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&u); err != nil {
		return nil, fmt.Errorf("%w: malformed profile: %v", core.ErrUpstreamAuth, err)
	}
	if u.ID == nil {
		return nil, fmt.Errorf("%w: profile without id", core.ErrUpstreamAuth)
	}

	return &core.IdentityAssertion{
		ID:        strconv.FormatInt(*u.ID, 10),
		Login:     u.Login,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		Name:      u.Name,
	}, nil
}
