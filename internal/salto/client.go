// Package salto is the client for the access-control system's identity
// list. The endpoints are not part of any documented API; the handover of
// grants happens through the staging table, this client only exists because
// there is no other way to learn a user's ExtId.
package salto

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"saltosync/internal/models"
)

const userPageSize = 21

var errUnauthorized = errors.New("unauthorized")

// Client talks to the Salto web API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     zerolog.Logger

	accessToken string
}

// NewClient constructs a client. insecureSkipVerify mirrors the web app's
// behavior of accepting the appliance's self-signed certificate.
func NewClient(baseURL, username, password string, insecureSkipVerify bool, logger zerolog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecureSkipVerify}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		logger: logger.With().Str("component", "salto").Logger(),
	}
}

// passwordSalt builds the 32-byte salt the web app sends: current time in
// the first 12 bytes so salts never repeat, random bytes for the rest.
func passwordSalt(now time.Time) string {
	var raw [32]byte
	binary.LittleEndian.PutUint64(raw[0:8], uint64(now.Unix()))
	binary.LittleEndian.PutUint32(raw[8:12], uint32(now.Nanosecond()/1e6))
	if _, err := rand.Read(raw[12:]); err != nil {
		panic(fmt.Sprintf("read random salt: %v", err))
	}
	return hex.EncodeToString(raw[:])
}

// passwordHash computes the Salto-style login hash:
// <salt><sha256(salt + password)>, both hex-encoded.
func passwordHash(password string, now time.Time) string {
	salt := passwordSalt(now)
	sum := sha256.Sum256([]byte(salt + password))
	return salt + hex.EncodeToString(sum[:])
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// login performs the password-grant OAuth exchange. The username travels
// base64-encoded; that is how the web app does it.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", "webapp")
	form.Set("scope", "offline_access global")
	form.Set("username", base64.StdEncoding.EncodeToString([]byte(c.username)))
	form.Set("password", passwordHash(c.password, time.Now()))

	endpoint := fmt.Sprintf("%s/oauth/connect/token", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("login: http %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	c.accessToken = token.AccessToken
	return nil
}

// userPageRequest is the form the RPC endpoint expects for the next page of
// users, keyed by the full last item of the previous page.
type userPageRequest struct {
	StartingItem    json.RawMessage   `json:"startingItem"`
	OrderBy         int               `json:"orderBy"`
	MaxCount        int               `json:"maxCount"`
	ReturnRelations userPageRelations `json:"returnRelations"`
	FilterCriteria  string            `json:"filterCriteria"`
	IsForward       bool              `json:"isForward"`
}

type userPageRelations struct {
	Type       string `json:"$type"`
	Data       bool   `json:"Data"`
	Enrollment bool   `json:"Enrollment"`
}

func newUserPageRequest(startingItem json.RawMessage) userPageRequest {
	return userPageRequest{
		StartingItem: startingItem,
		OrderBy:      0,
		MaxCount:     userPageSize,
		ReturnRelations: userPageRelations{
			Type:       "Salto.Services.Web.Model.Dto.Cardholders.Users.UserRelationSet",
			Data:       false,
			Enrollment: false,
		},
		FilterCriteria: "",
		IsForward:      false,
	}
}

type userRecord struct {
	ExtID string `json:"ExtId"`
	Title string `json:"Title"`
}

// ListIdentities snapshots the full user list. Users whose record does not
// carry the expected fields are skipped; the resolver deals with titles
// that are not numeric.
func (c *Client) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	var identities []models.Identity
	var cursor json.RawMessage
	for {
		page, err := c.userPageAuthed(ctx, cursor)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return identities, nil
		}
		cursor = page[len(page)-1]
		for _, raw := range page {
			var user userRecord
			if err := json.Unmarshal(raw, &user); err != nil {
				c.logger.Debug().Err(err).Msg("skipping undecodable user record")
				continue
			}
			identities = append(identities, models.Identity{Title: user.Title, ExtID: user.ExtID})
		}
	}
}

// userPageAuthed fetches a user page, logging in lazily. The appliance
// expires tokens after a while; a 401 clears the cached token and retries
// with a fresh login once.
func (c *Client) userPageAuthed(ctx context.Context, startingItem json.RawMessage) ([]json.RawMessage, error) {
	if c.accessToken == "" {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}
	page, err := c.userPage(ctx, startingItem)
	if !errors.Is(err, errUnauthorized) {
		return page, err
	}

	c.logger.Info().Msg("access token rejected, logging in again")
	c.accessToken = ""
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	return c.userPage(ctx, startingItem)
}

func (c *Client) userPage(ctx context.Context, startingItem json.RawMessage) ([]json.RawMessage, error) {
	body, err := json.Marshal(newUserPageRequest(startingItem))
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/rpc/GetUserListStartingFromItem", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get user page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("get user page: %w", errUnauthorized)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get user page: http %d", resp.StatusCode)
	}

	var page []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode user page: %w", err)
	}
	return page, nil
}
