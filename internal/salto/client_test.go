package salto

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashShape(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	hash := passwordHash("secret", now)

	// 32 byte salt plus 32 byte sha256 sum, both hex-encoded.
	require.Len(t, hash, 128)
	salt, err := hex.DecodeString(hash[:64])
	require.NoError(t, err)
	_, err = hex.DecodeString(hash[64:])
	require.NoError(t, err)

	// The salt starts with the time so it never repeats.
	assert.Equal(t, uint64(now.Unix()), uint64(salt[0])|uint64(salt[1])<<8|uint64(salt[2])<<16|uint64(salt[3])<<24)

	other := passwordHash("secret", now)
	assert.NotEqual(t, hash, other, "random salt part must differ between calls")
}

func TestListIdentitiesLogsInAndPaginates(t *testing.T) {
	var pages int
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/connect/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.Form.Get("grant_type"))
		assert.Equal(t, "webapp", r.Form.Get("client_id"))

		username, err := base64.StdEncoding.DecodeString(r.Form.Get("username"))
		require.NoError(t, err)
		assert.Equal(t, "operator", string(username))
		assert.Len(t, r.Form.Get("password"), 128)

		fmt.Fprint(w, `{"access_token": "tok-1"}`)
	})
	mux.HandleFunc("/rpc/GetUserListStartingFromItem", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(21), req["maxCount"])

		pages++
		switch pages {
		case 1:
			assert.Nil(t, req["startingItem"])
			fmt.Fprint(w, `[
				{"ExtId": "E1", "Title": "555", "Name": "A"},
				{"ExtId": "E2", "Title": "0042", "Name": "B"}
			]`)
		case 2:
			// Cursor is the full last record of the previous page.
			cursor, ok := req["startingItem"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "E2", cursor["ExtId"])
			fmt.Fprint(w, `[{"ExtId": "E3", "Title": "not-numeric"}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "operator", "secret", false, zerolog.Nop())
	identities, err := c.ListIdentities(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 3)
	assert.Equal(t, "E1", identities[0].ExtID)
	assert.Equal(t, "555", identities[0].Title)
	// Raw titles pass through; the resolver decides what parses.
	assert.Equal(t, "not-numeric", identities[2].Title)
	assert.Equal(t, 3, pages)
}

func TestListIdentitiesRefreshesExpiredToken(t *testing.T) {
	var logins int
	validToken := ""
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/connect/token", func(w http.ResponseWriter, _ *http.Request) {
		logins++
		validToken = fmt.Sprintf("tok-%d", logins)
		fmt.Fprintf(w, `{"access_token": %q}`, validToken)
	})
	mux.HandleFunc("/rpc/GetUserListStartingFromItem", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+validToken {
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["startingItem"] == nil {
			fmt.Fprint(w, `[{"ExtId": "E1", "Title": "555"}]`)
			return
		}
		fmt.Fprint(w, `[]`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "operator", "secret", false, zerolog.Nop())
	identities, err := c.ListIdentities(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, 1, logins)

	// The appliance expires the token between runs; the next snapshot must
	// log in again instead of failing every run until a restart.
	validToken = "rotated-away"
	identities, err = c.ListIdentities(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, "E1", identities[0].ExtID)
	assert.Equal(t, 2, logins)
}

func TestListIdentitiesLoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "operator", "wrong", false, zerolog.Nop())
	_, err := c.ListIdentities(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
