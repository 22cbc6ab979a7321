package graphql

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialSubscription opens a subscription connection and completes the
// init handshake with the given init payload.
func dialSubscription(t *testing.T, env *gatewayEnv, payload map[string]string) *websocket.Conn {
	t.Helper()

	conn := dialRaw(t, env)

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: msgConnectionInit, Payload: body}))

	var ack wsMessage
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, msgConnectionAck, ack.Type)

	return conn
}

func dialRaw(t *testing.T, env *gatewayEnv) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{
		Subprotocols:     []string{wsSubprotocol},
		HandshakeTimeout: 5 * time.Second,
	}
	conn, resp, err := dialer.Dial("ws://"+env.server.Addr()+"/graphql", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForSubscriptions blocks until the given number of subscription
// operations are in flight, so tests do not publish before the
// executor's channel exists.
func waitForSubscriptions(t *testing.T, env *gatewayEnv, want float64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(env.server.metrics.ActiveSubscriptions) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscription count never reached %v", want)
}

func closeCode(t *testing.T, err error) int {
	t.Helper()
	closeErr := new(websocket.CloseError)
	require.ErrorAs(t, err, &closeErr)
	return closeErr.Code
}

func subscribePayload(t *testing.T, query string) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(map[string]string{"query": query})
	require.NoError(t, err)
	return body
}

func TestSubscriptionDeliversAddedBooks(t *testing.T) {
	env := startGateway(t, nil)

	conn := dialSubscription(t, env, nil)
	require.NoError(t, conn.WriteJSON(wsMessage{
		ID:      "op-1",
		Type:    msgSubscribe,
		Payload: subscribePayload(t, `subscription { bookAdded { title author { name } genres } }`),
	}))
	waitForSubscriptions(t, env, 1)

	env.post(t, env.token(t), `mutation {
		addBook(title: "The Hobbit", author: "J. R. R. Tolkien", published: 1937, genres: ["fantasy"]) { id }
	}`)

	var next wsMessage
	require.NoError(t, conn.ReadJSON(&next))
	require.Equal(t, msgNext, next.Type)
	assert.Equal(t, "op-1", next.ID)

	var event struct {
		Data struct {
			BookAdded struct {
				Title  string   `json:"title"`
				Genres []string `json:"genres"`
				Author struct {
					Name string `json:"name"`
				} `json:"author"`
			} `json:"bookAdded"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(next.Payload, &event))
	assert.Equal(t, "The Hobbit", event.Data.BookAdded.Title)
	assert.Equal(t, "J. R. R. Tolkien", event.Data.BookAdded.Author.Name)
	assert.Equal(t, []string{"fantasy"}, event.Data.BookAdded.Genres)

	require.NoError(t, conn.WriteJSON(wsMessage{ID: "op-1", Type: msgComplete}))
	waitForSubscriptions(t, env, 0)
}

func TestSubscriptionInitWithValidToken(t *testing.T) {
	env := startGateway(t, nil)

	conn := dialSubscription(t, env, map[string]string{
		"authorization": "Bearer " + env.token(t),
	})

	require.NoError(t, conn.WriteJSON(wsMessage{
		ID:      "op-1",
		Type:    msgSubscribe,
		Payload: subscribePayload(t, `subscription { bookAdded { title } }`),
	}))
	waitForSubscriptions(t, env, 1)
}

func TestSubscriptionInitInvalidTokenRejected(t *testing.T) {
	env := startGateway(t, nil)

	conn := dialRaw(t, env)
	payload, err := json.Marshal(map[string]string{"authorization": "garbage-token"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: msgConnectionInit, Payload: payload}))

	var msg wsMessage
	err = conn.ReadJSON(&msg)
	require.Error(t, err)
	assert.Equal(t, closeForbidden, closeCode(t, err))
}

func TestSubscriptionInitTimeout(t *testing.T) {
	env := startGateway(t, func(cfg *Config) {
		cfg.InitTimeoutStr = "200ms"
	})

	conn := dialRaw(t, env)

	var msg wsMessage
	err := conn.ReadJSON(&msg)
	require.Error(t, err)
	assert.Equal(t, closeInitTimeout, closeCode(t, err))
}

func TestSubscriptionPingPong(t *testing.T) {
	env := startGateway(t, nil)

	conn := dialSubscription(t, env, nil)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: msgPing}))

	var pong wsMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, msgPong, pong.Type)
}

func TestSubscriptionDuplicateIDRejected(t *testing.T) {
	env := startGateway(t, nil)

	conn := dialSubscription(t, env, nil)
	subscribe := func() error {
		return conn.WriteJSON(wsMessage{
			ID:      "dup",
			Type:    msgSubscribe,
			Payload: subscribePayload(t, `subscription { bookAdded { title } }`),
		})
	}
	require.NoError(t, subscribe())
	waitForSubscriptions(t, env, 1)
	require.NoError(t, subscribe())

	var msg wsMessage
	err := conn.ReadJSON(&msg)
	require.Error(t, err)
	assert.Equal(t, closeSubscriberExists, closeCode(t, err))
}

func TestSubscriptionSecondInitRejected(t *testing.T) {
	env := startGateway(t, nil)

	conn := dialSubscription(t, env, nil)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: msgConnectionInit}))

	var msg wsMessage
	err := conn.ReadJSON(&msg)
	require.Error(t, err)
	assert.Equal(t, closeTooManyInitRequests, closeCode(t, err))
}

func TestSubscriptionQueryOverWebSocket(t *testing.T) {
	env := startGateway(t, nil)

	conn := dialSubscription(t, env, nil)
	require.NoError(t, conn.WriteJSON(wsMessage{
		ID:      "q-1",
		Type:    msgSubscribe,
		Payload: subscribePayload(t, `{ bookCount }`),
	}))

	var next wsMessage
	require.NoError(t, conn.ReadJSON(&next))
	require.Equal(t, msgNext, next.Type)

	var result struct {
		Data struct {
			BookCount int `json:"bookCount"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(next.Payload, &result))
	assert.Equal(t, 0, result.Data.BookCount)

	var complete wsMessage
	require.NoError(t, conn.ReadJSON(&complete))
	assert.Equal(t, msgComplete, complete.Type)
	assert.Equal(t, "q-1", complete.ID)
}

func TestServerStopClosesSubscriptions(t *testing.T) {
	env := startGateway(t, nil)

	conn := dialSubscription(t, env, nil)
	require.NoError(t, conn.WriteJSON(wsMessage{
		ID:      "op-1",
		Type:    msgSubscribe,
		Payload: subscribePayload(t, `subscription { bookAdded { title } }`),
	}))
	waitForSubscriptions(t, env, 1)

	stopped := make(chan error, 1)
	go func() { stopped <- env.server.Stop(2 * time.Second) }()

	// The client sees a going-away close once HTTP draining finishes.
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			assert.Equal(t, websocket.CloseGoingAway, closeCode(t, err))
			break
		}
	}

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, env.server.IsRunning())
}

func TestSubscriptionMalformedSubscribeClosed(t *testing.T) {
	env := startGateway(t, nil)

	conn := dialSubscription(t, env, nil)
	require.NoError(t, conn.WriteJSON(wsMessage{
		Type:    msgSubscribe,
		Payload: subscribePayload(t, `subscription { bookAdded { title } }`),
	}))

	var msg wsMessage
	err := conn.ReadJSON(&msg)
	require.Error(t, err)
	assert.Equal(t, closeBadRequest, closeCode(t, err))
}

func TestSubscriptionUnknownMessageTypeClosed(t *testing.T) {
	env := startGateway(t, nil)

	conn := dialSubscription(t, env, nil)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "bogus"}))

	var msg wsMessage
	err := conn.ReadJSON(&msg)
	require.Error(t, err)
	assert.Equal(t, closeBadRequest, closeCode(t, err))
}
