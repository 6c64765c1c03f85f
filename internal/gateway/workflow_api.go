// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// Credentials authenticates a workflow call.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is the backend's answer to a successful login or signup.
type AuthResult struct {
	UserID string
	Token  string
}

// AuthError is a workflow-level rejection: the backend answered the HTTP
// call but declined the credentials. Distinct from *APIError (transport or
// HTTP failure) so callers can tell "wrong password" from "backend down".
type AuthError struct {
	Endpoint string
	Code     string
	Message  string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s rejected: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("gateway: %s rejected: %s", e.Endpoint, e.Code)
}

// authEnvelope is the workflow-API wire shape. response is a status string,
// not an object; user and user_token ride alongside it on success, error
// and message on failure.
type authEnvelope struct {
	Response  string `json:"response"`
	User      string `json:"user"`
	UserToken string `json:"user_token"`
	ErrorCode string `json:"error"`
	Message   string `json:"message"`
}

func (c *Client) auth(ctx context.Context, endpoint string, creds Credentials) (*AuthResult, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	var out authEnvelope
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return nil, err
	}
	// The backend reports rejection as "failed" inside a 200.
	if out.Response != "success" {
		return nil, &AuthError{Endpoint: endpoint, Code: out.ErrorCode, Message: out.Message}
	}
	if out.User == "" || out.UserToken == "" {
		return nil, fmt.Errorf("gateway: %s success without user or token", endpoint)
	}
	return &AuthResult{UserID: out.User, Token: out.UserToken}, nil
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResult, error) {
	return c.auth(ctx, "/wf/login", creds)
}

// Signup registers a new account and returns a session for it.
func (c *Client) Signup(ctx context.Context, creds Credentials) (*AuthResult, error) {
	return c.auth(ctx, "/wf/signup", creds)
}

type wirePurchase struct {
	ID      string `json:"_id"`
	UserID  string `json:"user"`
	LevelID string `json:"level"`
}

// FetchEntitlements returns the level IDs the user has purchased access
// to. The free tier is not represented here; it is always unlocked.
func (c *Client) FetchEntitlements(ctx context.Context, userID string) ([]string, error) {
	raws, err := c.ListAll(ctx, "purchase", []Constraint{
		{Key: "user", ConstraintType: ConstraintEquals, Value: userID},
	})
	if err != nil {
		return nil, err
	}
	wires := decodeAll[wirePurchase]("purchase", raws)
	out := make([]string, 0, len(wires))
	for _, w := range wires {
		if w.LevelID != "" {
			out = append(out, w.LevelID)
		}
	}
	return out, nil
}
