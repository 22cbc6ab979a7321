package graphql

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraria/libraria/auth"
	"github.com/libraria/libraria/graph"
	"github.com/libraria/libraria/pubsub"
	"github.com/libraria/libraria/store"
)

// gatewayEnv is a fully wired gateway listening on an ephemeral port.
type gatewayEnv struct {
	server *Server
	store  *store.Memory
	bus    *pubsub.Memory
	auth   *auth.Service
	user   store.User
	url    string
}

func startGateway(t *testing.T, mutate func(*Config)) *gatewayEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemory()
	user, err := st.AddUser(context.Background(), store.User{
		Username:      "reader",
		FavoriteGenre: "classic",
	})
	require.NoError(t, err)

	authSvc, err := auth.NewService("gateway-test-secret", st, auth.WithLogger(logger))
	require.NoError(t, err)

	bus := pubsub.NewMemory(logger)

	resolver, err := graph.NewResolver(st, authSvc, bus, logger)
	require.NoError(t, err)
	schema, err := graph.NewSchema(resolver, logger)
	require.NoError(t, err)

	cfg := Config{
		BindAddress:      "127.0.0.1:0",
		EnablePlayground: false,
		EnableMetrics:    true,
		InitTimeoutStr:   "2s",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg, schema, authSvc, logger)
	require.NoError(t, err)
	require.NoError(t, srv.Setup())

	ready := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = srv.Start(ctx, ready)
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		_ = srv.Stop(2 * time.Second)
		bus.Close()
	})

	return &gatewayEnv{
		server: srv,
		store:  st,
		bus:    bus,
		auth:   authSvc,
		user:   user,
		url:    "http://" + srv.Addr(),
	}
}

// post executes one GraphQL operation over HTTP and decodes the
// response envelope.
func (e *gatewayEnv) post(t *testing.T, token, query string) map[string]json.RawMessage {
	t.Helper()

	body, err := json.Marshal(map[string]string{"query": query})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.url+"/graphql", strings.NewReader(string(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func (e *gatewayEnv) token(t *testing.T) string {
	t.Helper()
	token, err := e.auth.IssueToken(e.user)
	require.NoError(t, err)
	return token
}

func TestServerLifecycle(t *testing.T) {
	env := startGateway(t, nil)

	assert.True(t, env.server.IsRunning())
	assert.NotEmpty(t, env.server.Addr())

	resp, err := http.Get(env.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, env.server.Stop(2*time.Second))
	assert.False(t, env.server.IsRunning())

	// Stop is idempotent.
	require.NoError(t, env.server.Stop(2*time.Second))
}

func TestServerStartTwiceFails(t *testing.T) {
	env := startGateway(t, nil)

	err := env.server.Start(context.Background(), nil)
	assert.Error(t, err)
}

func TestServerRequiresSetup(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemory()
	authSvc, err := auth.NewService("secret-value", st)
	require.NoError(t, err)
	bus := pubsub.NewMemory(logger)
	defer bus.Close()

	resolver, err := graph.NewResolver(st, authSvc, bus, logger)
	require.NoError(t, err)
	schema, err := graph.NewSchema(resolver, logger)
	require.NoError(t, err)

	srv, err := NewServer(Config{BindAddress: "127.0.0.1:0"}, schema, authSvc, logger)
	require.NoError(t, err)

	err = srv.Start(context.Background(), nil)
	assert.Error(t, err)
}

func TestNewServerValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewServer(Config{}, nil, nil, logger)
	assert.Error(t, err)

	_, err = NewServer(Config{Path: "no-slash"}, nil, nil, logger)
	assert.Error(t, err)
}

// slowStore delays count reads so a request can be arranged to span a
// Stop call.
type slowStore struct {
	store.Store
	delay time.Duration
}

func (s *slowStore) BookCount(ctx context.Context) (int32, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return s.Store.BookCount(ctx)
}

func TestStopWaitsForInFlightRequests(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := &slowStore{Store: store.NewMemory(), delay: 300 * time.Millisecond}
	authSvc, err := auth.NewService("gateway-test-secret", st)
	require.NoError(t, err)
	bus := pubsub.NewMemory(logger)
	defer bus.Close()

	resolver, err := graph.NewResolver(st, authSvc, bus, logger)
	require.NoError(t, err)
	schema, err := graph.NewSchema(resolver, logger)
	require.NoError(t, err)

	srv, err := NewServer(Config{BindAddress: "127.0.0.1:0"}, schema, authSvc, logger)
	require.NoError(t, err)
	require.NoError(t, srv.Setup())

	ready := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Start(ctx, ready) }()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	type result struct {
		status int
		body   string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://"+srv.Addr()+"/graphql", "application/json",
			strings.NewReader(`{"query":"{ bookCount }"}`))
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		done <- result{status: resp.StatusCode, body: string(body)}
	}()

	// Let the request reach the slow resolver, then drain under it.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, srv.Stop(2*time.Second))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, http.StatusOK, res.status, "in-flight request must complete during drain")
		assert.Contains(t, res.body, `"bookCount":0`)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight request never finished")
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	env := startGateway(t, nil)

	env.post(t, "", `{ bookCount }`)

	resp, err := http.Get(env.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "libraria_gateway_requests_total")
}
