package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ambilio/workspace-console/internal/model"
)

type fakeSession struct {
	mu    sync.Mutex
	token string
	epoch uint64
}

func newFakeSession(token string) *fakeSession {
	return &fakeSession{token: token}
}

func (s *fakeSession) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *fakeSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.epoch++
}

func (s *fakeSession) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// countingServer wraps an httptest server and counts requests so
// validation short-circuits can assert no network traffic happened.
type countingServer struct {
	*httptest.Server
	mu    sync.Mutex
	calls int
}

func newCountingServer(t *testing.T, handler http.HandlerFunc) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.calls++
		cs.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *countingServer) callCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.calls
}

func writeInstances(w http.ResponseWriter, instances []model.Instance) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(instances)
}

func testInstance(id string, typ model.WorkspaceType, status model.InstanceStatus) model.Instance {
	return model.Instance{
		ID:        id,
		Type:      typ,
		Status:    status,
		CreatedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		TTLHours:  12,
	}
}

func TestListReplacesViewWholesale(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		current []model.Instance
	)
	setServerState := func(in []model.Instance) {
		mu.Lock()
		current = in
		mu.Unlock()
	}

	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		writeInstances(w, current)
	})

	c := New(srv.URL, newFakeSession("tok_abc"), srv.Client())

	setServerState([]model.Instance{
		testInstance("ins_1", model.TypeVSCode, model.StatusRunning),
		testInstance("ins_2", model.TypeJupyter, model.StatusStopped),
	})
	if _, err := c.List(context.Background()); err != nil {
		t.Fatalf("List: %v", err)
	}

	// Idempotent refresh: same server state, same visible set.
	first := c.Snapshot()
	if _, err := c.List(context.Background()); err != nil {
		t.Fatalf("List(2): %v", err)
	}
	second := c.Snapshot()
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 instances, got %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Status != second[i].Status {
			t.Fatalf("refresh without mutation changed the view: %+v vs %+v", first[i], second[i])
		}
	}

	// No-merge replacement: an id the server dropped must vanish.
	setServerState([]model.Instance{
		testInstance("ins_2", model.TypeJupyter, model.StatusRunning),
	})
	if _, err := c.List(context.Background()); err != nil {
		t.Fatalf("List(3): %v", err)
	}
	got := c.Snapshot()
	if len(got) != 1 || got[0].ID != "ins_2" {
		t.Fatalf("expected full replacement leaving only ins_2, got %+v", got)
	}
	if got[0].Status != model.StatusRunning {
		t.Fatalf("expected refreshed status, got %q", got[0].Status)
	}
}

func TestListTransportFailureLeavesViewUntouched(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeInstances(w, []model.Instance{testInstance("ins_1", model.TypeVSCode, model.StatusRunning)})
	})
	c := New(srv.URL, newFakeSession("tok_abc"), srv.Client())
	if _, err := c.List(context.Background()); err != nil {
		t.Fatalf("List: %v", err)
	}

	srv.CloseClientConnections()
	srv.Close()

	got, err := c.List(context.Background())
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if len(got) != 0 {
		t.Fatalf("transport failure must return an empty set, got %d", len(got))
	}
	if view := c.Snapshot(); len(view) != 1 {
		t.Fatalf("cached view must survive a transport failure, got %d", len(view))
	}
}

func TestUnauthorizedClearsSessionOnEveryOperation(t *testing.T) {
	t.Parallel()

	reject := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "token expired"}`))
	}

	ops := []struct {
		name string
		call func(c *Client) error
	}{
		{"list", func(c *Client) error { _, err := c.List(context.Background()); return err }},
		{"create", func(c *Client) error { _, err := c.Create(context.Background(), model.TypeJupyter, 12); return err }},
		{"start", func(c *Client) error { _, err := c.Start(context.Background(), "ins_1", model.TypeJupyter); return err }},
		{"stop", func(c *Client) error { _, err := c.Stop(context.Background(), "ins_1", model.TypeJupyter); return err }},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			srv := newCountingServer(t, reject)
			sess := newFakeSession("tok_stale")
			c := New(srv.URL, sess, srv.Client())

			err := op.call(c)
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
			if _, ok := sess.Token(); ok {
				t.Fatalf("401 must clear the session")
			}
		})
	}

	t.Run("heartbeat", func(t *testing.T) {
		srv := newCountingServer(t, reject)
		sess := newFakeSession("tok_stale")
		c := New(srv.URL, sess, srv.Client())

		if c.Heartbeat(context.Background(), "ins_1") {
			t.Fatalf("rejected heartbeat must report false")
		}
		if _, ok := sess.Token(); ok {
			t.Fatalf("heartbeat 401 must clear the session")
		}
	})
}

func TestValidationShortCircuitsBeforeNetwork(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	})
	sess := newFakeSession("tok_abc")
	c := New(srv.URL, sess, srv.Client())
	ctx := context.Background()

	if _, err := c.Start(ctx, "ins_1", ""); !errors.Is(err, ErrMissingType) {
		t.Fatalf("Start without type: %v", err)
	}
	if _, err := c.Stop(ctx, "ins_1", ""); !errors.Is(err, ErrMissingType) {
		t.Fatalf("Stop without type: %v", err)
	}
	if _, err := c.Start(ctx, "", model.TypeVSCode); !errors.Is(err, ErrMissingID) {
		t.Fatalf("Start without id: %v", err)
	}
	if _, err := c.Create(ctx, "fortran-ide", 12); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Create with unknown type: %v", err)
	}
	if _, err := c.Create(ctx, model.TypeVSCode, 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("Create with zero ttl: %v", err)
	}

	noSession := New(srv.URL, newFakeSession(""), srv.Client())
	if _, err := noSession.List(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("List without session: %v", err)
	}

	if got := srv.callCount(); got != 0 {
		t.Fatalf("validation failures must not reach the network, saw %d calls", got)
	}
}

func TestStaleListResponseIsDiscarded(t *testing.T) {
	t.Parallel()

	sess := newFakeSession("tok_abc")
	c := New("http://unused.invalid", sess, nil)

	newer := []model.Instance{testInstance("ins_new", model.TypeVSCode, model.StatusRunning)}
	older := []model.Instance{testInstance("ins_old", model.TypeVSCode, model.StatusStopped)}

	if !c.apply(2, sess.Epoch(), newer) {
		t.Fatalf("newest response must apply")
	}
	if c.apply(1, sess.Epoch(), older) {
		t.Fatalf("stale response must be discarded")
	}

	got := c.Snapshot()
	if len(got) != 1 || got[0].ID != "ins_new" {
		t.Fatalf("view must keep the newest response, got %+v", got)
	}
}

func TestListAcrossSessionChangeIsDiscarded(t *testing.T) {
	t.Parallel()

	sess := newFakeSession("tok_abc")
	c := New("http://unused.invalid", sess, nil)

	epochBefore := sess.Epoch()
	leaked := []model.Instance{testInstance("ins_leak", model.TypeVSCode, model.StatusRunning)}

	sess.Clear()
	if c.apply(1, epochBefore, leaked) {
		t.Fatalf("response issued before logout must not apply after it")
	}
	if got := c.Snapshot(); len(got) != 0 {
		t.Fatalf("no cross-session data may leak into the view, got %+v", got)
	}
}

func TestHeartbeatSwallowsFailures(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	sess := newFakeSession("tok_abc")
	c := New(srv.URL, sess, srv.Client())

	if c.Heartbeat(context.Background(), "ins_1") {
		t.Fatalf("5xx heartbeat must report false")
	}
	if _, ok := sess.Token(); !ok {
		t.Fatalf("non-auth heartbeat failure must not clear the session")
	}

	// Transport failure path.
	srv.CloseClientConnections()
	srv.Close()
	if c.Heartbeat(context.Background(), "ins_1") {
		t.Fatalf("unreachable server heartbeat must report false")
	}
}

func TestTransitionAcceptsEmptyObjectResponse(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	c := New(srv.URL, newFakeSession("tok_abc"), srv.Client())

	inst, err := c.Start(context.Background(), "ins_1", model.TypeVSCode)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if inst.ID != "" {
		t.Fatalf("empty object response must decode to a zero instance, got %+v", inst)
	}
}

func TestApplicationErrorPassesServerMessageThrough(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error": "workspace quota exceeded"}`))
	})
	c := New(srv.URL, newFakeSession("tok_abc"), srv.Client())

	_, err := c.Create(context.Background(), model.TypeVSCode, 12)
	if err == nil || err.Error() != "workspace quota exceeded" {
		t.Fatalf("expected verbatim server message, got %v", err)
	}

	// And the generic fallback when the body carries no message.
	srv2 := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c2 := New(srv2.URL, newFakeSession("tok_abc"), srv2.Client())
	_, err = c2.List(context.Background())
	if err == nil || err.Error() != "failed to fetch instances" {
		t.Fatalf("expected generic list failure message, got %v", err)
	}
}
