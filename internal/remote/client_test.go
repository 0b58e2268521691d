package remote

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtuallab/labsync/internal/config"
	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/logging"
	"github.com/virtuallab/labsync/internal/models"
	syncpkg "github.com/virtuallab/labsync/internal/sync"
)

type captured struct {
	method string
	path   string
	query  string
	prefer string
	apikey string
	body   string
}

type backend struct {
	mu       sync.Mutex
	requests []captured
	status   int
	response string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.requests = append(b.requests, captured{
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.RawQuery,
		prefer: r.Header.Get("Prefer"),
		apikey: r.Header.Get("apikey"),
		body:   string(body),
	})
	status, response := b.status, b.response
	b.mu.Unlock()

	if status == 0 {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
	io.WriteString(w, response)
}

func (b *backend) last() captured {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

func newTestClient(t *testing.T, b *backend) *Client {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return NewClient(config.RemoteConfig{BaseURL: srv.URL + "/", APIKey: "anon-key", Timeout: 2 * time.Second}, logging.Discard())
}

// TestHandlers_Routes verifies each kind is written to its table.
func TestHandlers_Routes(t *testing.T) {
	tests := []struct {
		kind    models.ActionKind
		payload string
		path    string
		prefer  string
	}{
		{models.KindSubmitQuizResult, `{"quiz_id":"q1","score":80,"total_questions":5,"correct_answers":4}`, "/rest/v1/quiz_results", "return=minimal"},
		{models.KindUpdateProgress, `{"moduleId":"m1","progress":50}`, "/rest/v1/user_progress", "resolution=merge-duplicates,return=minimal"},
		{models.KindSaveSimulationRun, `{"algorithmType":"bubble","steps":[],"result":null}`, "/rest/v1/simulation_history", "return=minimal"},
	}

	b := &backend{}
	c := newTestClient(t, b)
	reg := syncpkg.NewRegistry()
	Register(reg, c)
	assert.Len(t, reg.Kinds(), 3)

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			h, ok := reg.Lookup(tt.kind)
			require.True(t, ok)
			require.NoError(t, h.Send(context.Background(), json.RawMessage(tt.payload)))

			got := b.last()
			assert.Equal(t, http.MethodPost, got.method)
			assert.Equal(t, tt.path, got.path)
			assert.Equal(t, tt.prefer, got.prefer)
			assert.Equal(t, "anon-key", got.apikey)
			assert.JSONEq(t, tt.payload, got.body)
		})
	}
}

// TestHandlers_Classification verifies status codes map onto the failure
// taxonomy.
func TestHandlers_Classification(t *testing.T) {
	tests := []struct {
		status int
		code   apperrors.ErrorCode
	}{
		{http.StatusInternalServerError, apperrors.ErrRemoteTransient},
		{http.StatusBadGateway, apperrors.ErrRemoteTransient},
		{http.StatusTooManyRequests, apperrors.ErrRemoteTransient},
		{http.StatusRequestTimeout, apperrors.ErrRemoteTransient},
		{http.StatusBadRequest, apperrors.ErrRemoteRejected},
		{http.StatusConflict, apperrors.ErrRemoteRejected},
		{http.StatusUnauthorized, apperrors.ErrRemoteRejected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			b := &backend{status: tt.status, response: `{"message":"nope"}`}
			h, err := newTestClient(t, b).Handler(models.KindUpdateProgress)
			require.NoError(t, err)

			err = h.Send(context.Background(), json.RawMessage(`{"moduleId":"m1","progress":10}`))
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

// TestHandlers_InvalidPayload verifies bad payloads are rejected locally and
// never retried.
func TestHandlers_InvalidPayload(t *testing.T) {
	b := &backend{}
	c := newTestClient(t, b)

	payloads := map[models.ActionKind]string{
		models.KindUpdateProgress:    `{"moduleId":"m1","progress":150}`,
		models.KindSubmitQuizResult:  `{"quiz_id":"q1","total_questions":3,"correct_answers":4}`,
		models.KindSaveSimulationRun: `{"steps":[]}`,
	}
	for kind, payload := range payloads {
		h, err := c.Handler(kind)
		require.NoError(t, err)
		err = h.Send(context.Background(), json.RawMessage(payload))
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalid), "%s: %v", kind, err)
		assert.False(t, apperrors.IsRetryable(err))
	}

	h, _ := c.Handler(models.KindUpdateProgress)
	err := h.Send(context.Background(), json.RawMessage(`"not an object"`))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	assert.Empty(t, b.requests)

	_, err = c.Handler("grade-essay")
	assert.True(t, apperrors.Is(err, apperrors.ErrNoHandler))
}

// TestClient_Unreachable verifies a refused connection is classified as
// unreachable rather than a transient failure.
func TestClient_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	c := NewClient(config.RemoteConfig{BaseURL: "http://" + addr, Timeout: time.Second}, logging.Discard())
	err = c.Insert(context.Background(), "user_progress", json.RawMessage(`{}`), true)
	assert.True(t, apperrors.IsUnreachable(err), "got %v", err)
}

// TestClient_Timeout verifies a slow remote is a transient failure.
func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(config.RemoteConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, logging.Discard())
	err := c.Insert(context.Background(), "quiz_results", json.RawMessage(`{}`), false)
	assert.Equal(t, apperrors.ErrRemoteTransient, apperrors.CodeOf(err))
}

// TestClient_NotConfigured verifies a missing base URL is a config error.
func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(config.RemoteConfig{}, logging.Discard())
	_, err := c.Select(context.Background(), "quizzes", nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

// TestFetcher verifies read-through queries.
func TestFetcher(t *testing.T) {
	b := &backend{status: http.StatusOK, response: `[{"id":"q1","title":"Sorting"}]`}
	c := newTestClient(t, b)

	fetch := c.Fetcher("quizzes", map[string]string{"module_id": "eq.m1"})
	data, err := fetch(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"q1","title":"Sorting"}]`, string(data))

	got := b.last()
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/rest/v1/quizzes", got.path)
	assert.Equal(t, "module_id=eq.m1", got.query)

	b.mu.Lock()
	b.response = "<html>"
	b.mu.Unlock()
	_, err = fetch(context.Background())
	assert.Equal(t, apperrors.ErrRemoteTransient, apperrors.CodeOf(err))
}
