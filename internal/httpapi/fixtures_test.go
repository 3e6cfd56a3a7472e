package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/audit"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
)

const testSecret = "httpapi-test-secret"

type fakeSource struct {
	mu        sync.Mutex
	roles     map[int64][]string
	perms     map[int64][]string
	err       error
	roleCalls atomic.Int32
	permCalls atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{roles: map[int64][]string{}, perms: map[int64][]string{}}
}

func (s *fakeSource) grant(userID int64, roles, perms []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = roles
	s.perms[userID] = perms
}

func (s *fakeSource) UserRoles(_ context.Context, userID int64) ([]string, error) {
	s.roleCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.roles[userID], nil
}

func (s *fakeSource) UserPermissions(_ context.Context, userID int64) ([]string, error) {
	s.permCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.perms[userID], nil
}

func (s *fakeSource) calls() int32 { return s.roleCalls.Load() + s.permCalls.Load() }

type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureRecorder) Record(_ context.Context, e audit.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *captureRecorder) snapshot() []audit.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Entry(nil), c.entries...)
}

func (c *captureRecorder) byAction(action string) []audit.Entry {
	var out []audit.Entry
	for _, e := range c.snapshot() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type panicRecorder struct{}

func (panicRecorder) Record(context.Context, audit.Entry) { panic("audit sink exploded") }

type testEnv struct {
	codec    *auth.TokenCodec
	source   *fakeSource
	resolver *auth.Resolver
	guard    *Guard
}

func newTestEnv(t *testing.T, rec audit.Recorder) *testEnv {
	t.Helper()
	codec, err := auth.NewTokenCodec(auth.TokenConfig{Secret: testSecret, AccessTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	src := newFakeSource()
	res, err := auth.NewResolver(src)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	eval, err := auth.NewPolicyEvaluator(res)
	if err != nil {
		t.Fatalf("NewPolicyEvaluator: %v", err)
	}
	g, err := NewGuard(GuardConfig{Tokens: codec, Resolver: res, Evaluator: eval, Recorder: rec})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return &testEnv{codec: codec, source: src, resolver: res, guard: g}
}

func (e *testEnv) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := e.codec.IssueAccessToken(auth.Subject{UserID: userID, Email: "u@example.com", Name: "User"})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	return tok.Raw
}

type errResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func decodeErr(t *testing.T, rr *httptest.ResponseRecorder) errResponse {
	t.Helper()
	var body errResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var body struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	if !body.Success {
		t.Fatalf("expected success body, got %s", rr.Body.String())
	}
	if err := json.Unmarshal(body.Data, dst); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func okHandler(called *atomic.Bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if called != nil {
			called.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func authed(method, target, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}
