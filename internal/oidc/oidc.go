// Package oidc signs shoppers in with an OpenID Connect provider (Google by
// default) using the authorization code flow.
package oidc

import (
	"context"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-faster/errors"
	"golang.org/x/oauth2"

	"github.com/xenking/shopnow/internal/domain/identity"
)

// GoogleIssuer is the issuer URL of Google accounts.
const GoogleIssuer = "https://accounts.google.com"

// Config configures the authenticator.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// SessionTTL, when positive, replaces the ID token expiry as the session
	// lifetime.
	SessionTTL time.Duration
}

// Authenticator implements identity.Authenticator.
type Authenticator struct {
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	sessionTTL time.Duration
	now        func() time.Time
}

var _ identity.Authenticator = (*Authenticator)(nil)

// New discovers the provider at cfg.IssuerURL.
func New(ctx context.Context, cfg Config) (*Authenticator, error) {
	if cfg.IssuerURL == "" {
		cfg.IssuerURL = GoogleIssuer
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "discover provider")
	}

	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		sessionTTL: cfg.SessionTTL,
		now:        time.Now,
	}, nil
}

// AuthCodeURL returns the consent page URL. The account chooser is always
// shown so a shopper can switch accounts after signing out.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades code for tokens and verifies the ID token.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*identity.Session, error) {
	if code == "" {
		return nil, errors.New("empty authorization code")
	}
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "exchange code")
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("no id_token in token response")
	}
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "verify id token")
	}

	var c claims
	if err := idToken.Claims(&c); err != nil {
		return nil, errors.Wrap(err, "parse claims")
	}
	expiry := idToken.Expiry
	if a.sessionTTL > 0 {
		expiry = a.now().Add(a.sessionTTL)
	}
	return c.session(expiry)
}

type claims struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

func (c claims) session(expiry time.Time) (*identity.Session, error) {
	if c.Subject == "" {
		return nil, errors.New("id token has no subject")
	}
	name := c.Name
	if name == "" {
		name = c.Email
	}
	if name == "" {
		name = c.Subject
	}
	return &identity.Session{
		UserID:      c.Subject,
		DisplayName: name,
		Email:       c.Email,
		AvatarURL:   c.Picture,
		ExpiresAt:   expiry,
	}, nil
}

// ErrDisabled is returned by Disabled.
var ErrDisabled = errors.New("sign-in is not configured")

// Disabled is the authenticator used when no OAuth client is configured.
// Every sign-in attempt fails and the shopper stays signed out.
type Disabled struct{}

var _ identity.Authenticator = Disabled{}

// CallbackPath is where Disabled sends the login redirect, relative to the
// storefront so it works behind any host.
const CallbackPath = "/auth/callback"

func (Disabled) AuthCodeURL(state string) string {
	return CallbackPath + "?error=" + url.QueryEscape(ErrDisabled.Error()) + "&state=" + url.QueryEscape(state)
}

func (Disabled) Exchange(context.Context, string) (*identity.Session, error) {
	return nil, ErrDisabled
}
