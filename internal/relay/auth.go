package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openmentor/livesession/internal/domain"
	"github.com/openmentor/livesession/internal/restclient"
)

var ErrBadCredential = errors.New("bad credential")

// Credential is what a connection presents before any room operation.
// Either a bearer token for the external auth collaborator or the
// development override key.
type Credential struct {
	Token  string
	DevKey string
}

// Authenticator validates a credential and resolves the user identity.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) (domain.UserID, error)
}

// DevKeyAuthenticator accepts the configured development override key.
// Identity is fixed; the dev key exists for local setups without the
// auth service running.
type DevKeyAuthenticator struct {
	Key  string
	User domain.UserID
}

func (a DevKeyAuthenticator) Authenticate(_ context.Context, cred Credential) (domain.UserID, error) {
	if a.Key == "" || cred.DevKey == "" || cred.DevKey != a.Key {
		return "", ErrBadCredential
	}
	return a.User, nil
}

// TokenAuthenticator verifies bearer tokens against the external auth
// service. The service replies {"success": true, "data": {"id": ...}}
// where data is the user entity.
type TokenAuthenticator struct {
	Client *restclient.Client
}

func (a TokenAuthenticator) Authenticate(ctx context.Context, cred Credential) (domain.UserID, error) {
	if cred.Token == "" {
		return "", ErrBadCredential
	}
	status, body, err := a.Client.WithAuth(cred.Token, "").Post(ctx, "/verify", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", ErrBadCredential
	}
	var resp struct {
		Success bool        `json:"success"`
		Data    domain.User `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", ErrBadCredential
	}
	return domain.NewUserID(string(resp.Data.ID))
}

// ChainAuthenticator tries each authenticator in order and returns the
// first success. Dev key first keeps local setups off the network.
type ChainAuthenticator []Authenticator

func (c ChainAuthenticator) Authenticate(ctx context.Context, cred Credential) (domain.UserID, error) {
	for _, a := range c {
		uid, err := a.Authenticate(ctx, cred)
		if err == nil {
			return uid, nil
		}
	}
	return "", ErrBadCredential
}
