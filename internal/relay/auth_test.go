package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmentor/livesession/internal/domain"
	"github.com/openmentor/livesession/internal/restclient"
)

func TestDevKeyAuthenticator(t *testing.T) {
	a := DevKeyAuthenticator{Key: "local-dev", User: "dev-user"}

	uid, err := a.Authenticate(context.Background(), Credential{DevKey: "local-dev"})
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("dev-user"), uid)

	_, err = a.Authenticate(context.Background(), Credential{DevKey: "wrong"})
	assert.ErrorIs(t, err, ErrBadCredential)

	_, err = a.Authenticate(context.Background(), Credential{Token: "local-dev"})
	assert.ErrorIs(t, err, ErrBadCredential, "a token is not a dev key")

	unset := DevKeyAuthenticator{}
	_, err = unset.Authenticate(context.Background(), Credential{DevKey: ""})
	assert.ErrorIs(t, err, ErrBadCredential, "empty key never matches")
}

func TestTokenAuthenticator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer good-token" {
			w.Write([]byte(`{"success":true,"data":{"id":"user-7"}}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := TokenAuthenticator{Client: restclient.New(srv.URL)}

	uid, err := a.Authenticate(context.Background(), Credential{Token: "good-token"})
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("user-7"), uid)

	_, err = a.Authenticate(context.Background(), Credential{Token: "bad-token"})
	assert.ErrorIs(t, err, ErrBadCredential)

	_, err = a.Authenticate(context.Background(), Credential{})
	assert.ErrorIs(t, err, ErrBadCredential)
}

func TestChainAuthenticatorPrefersFirstSuccess(t *testing.T) {
	chain := ChainAuthenticator{
		DevKeyAuthenticator{Key: "local-dev", User: "dev-user"},
		mapAuth{"tok": "real-user"},
	}

	uid, err := chain.Authenticate(context.Background(), Credential{DevKey: "local-dev"})
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("dev-user"), uid)

	uid, err = chain.Authenticate(context.Background(), Credential{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("real-user"), uid)

	_, err = chain.Authenticate(context.Background(), Credential{})
	assert.ErrorIs(t, err, ErrBadCredential)
}
