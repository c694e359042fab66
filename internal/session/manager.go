package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
)

// Manager is the single source of truth for "is there a usable
// credential". It owns token acquisition, persistence, and teardown;
// validity is only discovered lazily when an API call comes back with an
// authorization failure.
type Manager struct {
	store   TokenStore
	baseURL string
	client  *http.Client
	epoch   atomic.Uint64
}

func NewManager(store TokenStore, baseURL string, client *http.Client) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{store: store, baseURL: baseURL, client: client}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Login exchanges credentials for a bearer token and persists it.
// Nothing is persisted on any failure path.
func (m *Manager) Login(ctx context.Context, email, password string) (string, error) {
	resp, err := m.postJSON(ctx, "/login", credentials{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusOK {
		return "", errors.New(messageOr(resp.body.Error, "login failed"))
	}
	if resp.body.Token == "" {
		return "", errors.New("no token received")
	}
	if err := m.store.Save(resp.body.Token); err != nil {
		return "", fmt.Errorf("persist token: %w", err)
	}
	m.epoch.Add(1)
	return resp.body.Token, nil
}

// Signup registers a new account. It never persists a token; signup does
// not imply login.
func (m *Manager) Signup(ctx context.Context, email, password string) (string, error) {
	resp, err := m.postJSON(ctx, "/signup", credentials{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	if resp.status < 200 || resp.status > 299 {
		return "", errors.New(messageOr(resp.body.Error, "signup failed"))
	}
	return messageOr(resp.body.Message, "signup successful"), nil
}

// Logout tears the session down. Side effect only; never fails.
func (m *Manager) Logout() {
	m.Clear()
}

// Clear removes the persisted token and advances the session epoch so
// responses issued under the old credential are discarded, not applied.
// Any caller observing an authorization failure invokes this.
func (m *Manager) Clear() {
	if err := m.store.Clear(); err != nil {
		log.Printf("session clear_failed err=%v", err)
	}
	m.epoch.Add(1)
}

// Token reads the persisted credential without validating it.
func (m *Manager) Token() (string, bool) {
	token, err := m.store.Load()
	if err != nil {
		log.Printf("session load_failed err=%v", err)
		return "", false
	}
	return token, token != ""
}

// IsAuthenticated is a presence check only.
func (m *Manager) IsAuthenticated() bool {
	_, ok := m.Token()
	return ok
}

// Epoch increments whenever the credential changes. Callers snapshot it
// before a request and discard results if it moved underneath them.
func (m *Manager) Epoch() uint64 {
	return m.epoch.Load()
}

type authResult struct {
	status int
	body   authResponse
}

func (m *Manager) postJSON(ctx context.Context, path string, payload any) (authResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return authResult{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return authResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := m.client.Do(req)
	if err != nil {
		return authResult{}, fmt.Errorf("network error: %w", err)
	}
	defer httpResp.Body.Close()

	out := authResult{status: httpResp.StatusCode}
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return authResult{}, fmt.Errorf("read response: %w", err)
	}
	// Some failure statuses carry no JSON body; status alone decides.
	_ = json.Unmarshal(body, &out.body)
	return out, nil
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
