package models

import (
	"time"

	"golang.org/x/oauth2"
)

const (
	// ExpirySkew treats a credential as expired slightly early so a request never races the provider's clock.
	ExpirySkew = 30 * time.Second

	// DefaultLifetime is assumed when a token response carries no expiry.
	DefaultLifetime = time.Hour
)

// Credential is the delegated-authorization credential for the provider account.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// Expired reports whether c must be refreshed before use at now.
//
// A nil credential, an empty access token or a zero expiry all count as expired.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil || c.AccessToken == "" || c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(c.ExpiresAt.Add(-ExpirySkew))
}

// CanRefresh reports whether c carries a refresh capability.
func (c *Credential) CanRefresh() bool {
	return c != nil && c.RefreshToken != ""
}

// Token converts c to an [oauth2.Token].
func (c *Credential) Token() *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.ExpiresAt,
	}
	if c.Scope != "" {
		t = t.WithExtra(map[string]any{"scope": c.Scope})
	}
	return t
}

// CredentialFromToken builds a Credential from a token endpoint response received at now.
func CredentialFromToken(t *oauth2.Token, now time.Time) *Credential {
	c := &Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    t.Expiry,
	}

	if c.TokenType == "" {
		c.TokenType = "Bearer"
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = now.Add(DefaultLifetime)
	}
	if scope, ok := t.Extra("scope").(string); ok {
		c.Scope = scope
	}
	return c
}
