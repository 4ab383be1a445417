// Package idp drives the browser authorization-code flow against the
// tenant's OpenID Connect endpoints.
package idp

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider abstracts identity provider operations.
type Provider interface {
	// Type returns the provider type identifier ("azure" or "oidc").
	Type() string

	// AuthURL generates the authorization URL for the code flow.
	AuthURL(state string) string

	// ExchangeCode exchanges an authorization code for tokens. The id_token
	// is available through token.Extra("id_token").
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// EndSessionURL returns where to send the browser to sign out of the
	// tenant. Without an end-session endpoint it is postLogoutRedirect.
	EndSessionURL(postLogoutRedirect string) string

	// TokenSource refreshes t when it expires.
	TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource
}

// IDToken returns the id_token carried alongside an OAuth2 token response
func IDToken(t *oauth2.Token) string {
	if t == nil {
		return ""
	}
	idToken, _ := t.Extra("id_token").(string)
	return idToken
}
