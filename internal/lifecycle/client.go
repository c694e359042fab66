package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ambilio/workspace-console/internal/metrics"
	"github.com/ambilio/workspace-console/internal/model"
)

var (
	// ErrNoSession: no token is persisted; the operation never reaches
	// the network.
	ErrNoSession = errors.New("no session token")
	// ErrMissingID and ErrMissingType are client-side validation
	// failures on transition requests.
	ErrMissingID   = errors.New("instance id is required")
	ErrMissingType = errors.New("workspace type is required")
	// ErrUnknownType rejects create requests for kinds outside the
	// supported registry.
	ErrUnknownType = errors.New("unknown workspace type")
	// ErrInvalidTTL rejects non-positive lease durations.
	ErrInvalidTTL = errors.New("ttl_hours must be positive")
	// ErrUnauthorized marks a 401-equivalent response. Observing it has
	// already cleared the persisted session as a side effect; callers
	// route back to the login flow.
	ErrUnauthorized = errors.New("unauthorized")
)

// Session is the credential dependency injected into the client. Only
// the session manager writes the token; the lifecycle client reads it
// and invokes Clear when the control plane rejects it.
type Session interface {
	Token() (string, bool)
	Clear()
	Epoch() uint64
}

// Client mediates every instance call against the remote control plane
// and keeps the cached view of known instances. The server is the sole
// source of truth: each successful list replaces the view wholesale, and
// the client never transitions a status locally.
type Client struct {
	baseURL string
	http    *http.Client
	session Session

	mu      sync.Mutex
	view    map[string]model.Instance
	viewSeq uint64
	nextSeq atomic.Uint64
}

func New(baseURL string, sess Session, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: baseURL,
		http:    client,
		session: sess,
		view:    make(map[string]model.Instance),
	}
}

// List fetches the full instance set. On success the cached view is
// replaced (no merge); a response that lost the race to a later list, or
// that was issued under a credential that has since changed, is
// discarded rather than applied. On transport failure the caller gets
// the error plus an empty set and the cached view is untouched.
func (c *Client) List(ctx context.Context) ([]model.Instance, error) {
	seq := c.nextSeq.Add(1)
	epoch := c.session.Epoch()

	status, body, err := c.do(ctx, "list", http.MethodGet, "/instances", nil)
	if err != nil {
		return []model.Instance{}, err
	}
	if status != http.StatusOK {
		return []model.Instance{}, c.apiError("list", status, body, "failed to fetch instances")
	}

	var instances []model.Instance
	if err := json.Unmarshal(body, &instances); err != nil {
		return []model.Instance{}, fmt.Errorf("decode instances: %w", err)
	}
	c.apply(seq, epoch, instances)
	return instances, nil
}

// Create requests provisioning of a new instance. The returned record
// is whatever the server reported; it is not assumed to be running and
// the caller re-lists to observe authoritative state.
func (c *Client) Create(ctx context.Context, typ model.WorkspaceType, ttlHours int) (model.Instance, error) {
	if _, ok := model.ParseWorkspaceType(string(typ)); !ok {
		return model.Instance{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if ttlHours <= 0 {
		return model.Instance{}, ErrInvalidTTL
	}

	payload := struct {
		Type     model.WorkspaceType `json:"type"`
		TTLHours int                 `json:"ttl_hours"`
	}{Type: typ, TTLHours: ttlHours}

	status, body, err := c.do(ctx, "create", http.MethodPost, "/instances", payload)
	if err != nil {
		return model.Instance{}, err
	}
	if status < 200 || status > 299 {
		return model.Instance{}, c.apiError("create", status, body, fmt.Sprintf("failed to create %s", typ))
	}

	var inst model.Instance
	if err := json.Unmarshal(body, &inst); err != nil {
		return model.Instance{}, fmt.Errorf("decode created instance: %w", err)
	}
	return inst, nil
}

// Start requests a transition to running. Idempotent from this side:
// the server arbitrates, and the caller reconciles via List.
func (c *Client) Start(ctx context.Context, id string, typ model.WorkspaceType) (model.Instance, error) {
	return c.transition(ctx, "start", id, typ)
}

// Stop requests a transition to stopped.
func (c *Client) Stop(ctx context.Context, id string, typ model.WorkspaceType) (model.Instance, error) {
	return c.transition(ctx, "stop", id, typ)
}

func (c *Client) transition(ctx context.Context, verb, id string, typ model.WorkspaceType) (model.Instance, error) {
	if id == "" {
		return model.Instance{}, ErrMissingID
	}
	// The remote routing depends on the type; a missing one is rejected
	// here, before any network call.
	if typ == "" {
		return model.Instance{}, ErrMissingType
	}

	path := fmt.Sprintf("/instances/%s/%s?type=%s", url.PathEscape(id), verb, url.QueryEscape(string(typ)))
	status, body, err := c.do(ctx, verb, http.MethodPost, path, nil)
	if err != nil {
		return model.Instance{}, err
	}
	if status < 200 || status > 299 {
		return model.Instance{}, c.apiError(verb, status, body, fmt.Sprintf("%s failed", verb))
	}

	// The server answers with either the instance record or an empty
	// object; both are fine, the next list is authoritative anyway.
	var inst model.Instance
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &inst); err != nil {
			return model.Instance{}, fmt.Errorf("decode %s response: %w", verb, err)
		}
	}
	return inst, nil
}

// Heartbeat is the advisory liveness signal deferring automatic expiry.
// Failures are swallowed; an authorization failure still tears the
// session down like every other operation.
func (c *Client) Heartbeat(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	status, body, err := c.do(ctx, "heartbeat", http.MethodPost, "/instances/"+url.PathEscape(id)+"/heartbeat", nil)
	if err != nil {
		log.Printf("lifecycle heartbeat_failed instance_id=%s err=%v", id, err)
		return false
	}
	if status < 200 || status > 299 {
		log.Printf("lifecycle heartbeat_rejected instance_id=%s status=%d", id, status)
		_ = c.apiError("heartbeat", status, body, "heartbeat failed")
		return false
	}
	return true
}

// Snapshot returns the cached view sorted by creation time. Callers get
// copies; the view itself only changes through List.
func (c *Client) Snapshot() []model.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Instance, 0, len(c.view))
	for _, inst := range c.view {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// apply installs a list response. seq orders concurrent lists so only
// the newest response wins; epoch guards against applying a response
// that raced a logout or re-login.
func (c *Client) apply(seq, epoch uint64, instances []model.Instance) bool {
	if epoch != c.session.Epoch() {
		log.Printf("lifecycle list_discarded reason=session_changed seq=%d", seq)
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.viewSeq {
		log.Printf("lifecycle list_discarded reason=stale seq=%d applied_seq=%d", seq, c.viewSeq)
		return false
	}
	c.viewSeq = seq
	view := make(map[string]model.Instance, len(instances))
	for _, inst := range instances {
		view[inst.ID] = inst
	}
	c.view = view
	return true
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) (int, []byte, error) {
	token, ok := c.session.Token()
	if !ok {
		return 0, nil, ErrNoSession
	}

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	durMS := float64(time.Since(start).Milliseconds())
	metrics.Default().ObserveHistogram("console_api_request_latency_ms", durMS, map[string]string{"operation": op})
	if err != nil {
		metrics.Default().IncCounter("console_api_requests_total", map[string]string{"operation": op, "status": "transport_error"})
		return 0, nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.Default().IncCounter("console_api_requests_total", map[string]string{"operation": op, "status": "transport_error"})
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	statusLabel := "ok"
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		statusLabel = "unauthorized"
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		statusLabel = "error"
	}
	metrics.Default().IncCounter("console_api_requests_total", map[string]string{"operation": op, "status": statusLabel})
	return resp.StatusCode, body, nil
}

// apiError classifies a non-success response. A 401 clears the persisted
// session before returning a distinctly tagged error so the caller can
// route to the login flow.
func (c *Client) apiError(op string, status int, body []byte, fallback string) error {
	msg := serverErrorMessage(body)
	if status == http.StatusUnauthorized {
		log.Printf("lifecycle auth_failure operation=%s", op)
		metrics.Default().IncCounter("console_auth_failures_total", map[string]string{"operation": op})
		c.session.Clear()
		if msg == "" {
			msg = "session expired"
		}
		return fmt.Errorf("%s: %w", msg, ErrUnauthorized)
	}
	if msg == "" {
		msg = fallback
	}
	return errors.New(msg)
}

func serverErrorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}
