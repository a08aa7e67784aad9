package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	"github.com/viktordrukker/telegram-bot-ui/internal/bots"
	"github.com/viktordrukker/telegram-bot-ui/internal/broadcast"
	"github.com/viktordrukker/telegram-bot-ui/internal/eventbus"
	"github.com/viktordrukker/telegram-bot-ui/internal/storage"
	"github.com/viktordrukker/telegram-bot-ui/internal/taskengine"
	"github.com/viktordrukker/telegram-bot-ui/internal/telegram"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

// stubFactory implements telegram.Factory without touching the network.
type stubFactory struct {
	mu         sync.Mutex
	sends      int
	failTokens map[string]bool
}

func (f *stubFactory) Client(_ context.Context, token string) (telegram.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTokens[token] {
		return nil, fmt.Errorf("unauthorized")
	}
	return stubClient{f: f}, nil
}

func (f *stubFactory) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

type stubClient struct{ f *stubFactory }

func (c stubClient) SendText(context.Context, int64, string) error {
	c.f.mu.Lock()
	c.f.sends++
	c.f.mu.Unlock()
	return nil
}

func (c stubClient) SendMedia(context.Context, int64, ads.MediaRef, string) error {
	c.f.mu.Lock()
	c.f.sends++
	c.f.mu.Unlock()
	return nil
}

type testServer struct {
	srv     *httptest.Server
	store   storage.Store
	factory *stubFactory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "api.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	factory := &stubFactory{failTokens: map[string]bool{}}
	bus := eventbus.New()

	engine := taskengine.New(taskengine.Config{Enabled: true, Workers: 2, QueueSize: 16, RetryMax: 1}, logx.Nop(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		engine.Stop(stopCtx)
		cancel()
	})

	dispatcher := broadcast.NewDispatcher(broadcast.DispatcherConfig{},
		broadcast.NewLedgerResolver(st), factory, broadcast.NewDeliverer(logx.Nop()), st, logx.Nop())
	orc := broadcast.NewOrchestrator(st, dispatcher, bus, logx.Nop())
	bcast := broadcast.NewService(broadcast.Config{RetryMax: 1, TaskTimeout: 5 * time.Second}, st, orc, engine, logx.Nop())
	botSvc := bots.New(st, factory, logx.Nop())

	h := New(st, bcast, botSvc, logx.Nop())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: st, factory: factory}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func (ts *testServer) createAd(t *testing.T, body map[string]any) int64 {
	t.Helper()
	resp, data := ts.do(t, http.MethodPost, "/api/advertisements", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var got struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	return got.ID
}

func (ts *testServer) createRunningBot(t *testing.T, chats ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	b := &ads.Bot{UserID: 1, Token: fmt.Sprintf("tok-%d", time.Now().UnixNano()), Name: "bot", Status: ads.BotRunning}
	require.NoError(t, ts.store.CreateBot(ctx, b))
	for _, c := range chats {
		require.NoError(t, ts.store.AddChat(ctx, b.ID, c))
	}
	return b.ID
}

func TestAdCRUD(t *testing.T) {
	ts := newTestServer(t)

	id := ts.createAd(t, map[string]any{
		"user_id":    1,
		"title":      "spring sale",
		"content":    "20% off",
		"media_urls": []string{"https://cdn.example.com/a.jpg"},
		"price":      12.5,
	})

	resp, data := ts.do(t, http.MethodGet, fmt.Sprintf("/api/advertisements/%d", id), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Status string `json:"status"`
		Media  []struct {
			Kind string `json:"kind"`
		} `json:"media"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "pending", got.Status)
	require.Len(t, got.Media, 1)
	assert.Equal(t, "image", got.Media[0].Kind)

	resp, data = ts.do(t, http.MethodGet, "/api/advertisements?user_id=1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list, 1)

	resp, _ = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/advertisements/%d", id), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/advertisements/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/advertisements", map[string]any{"user_id": 1, "title": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/advertisements", map[string]any{"user_id": 1, "title": "x", "content": "y", "price": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/advertisements/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/advertisements/12345", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteWhileBroadcastingConflicts(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createAd(t, map[string]any{"user_id": 1, "title": "t", "content": "c"})
	require.NoError(t, ts.store.Transition(context.Background(), id,
		[]ads.Status{ads.StatusPending}, ads.StatusBroadcasting, time.Now()))

	resp, _ := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/advertisements/%d", id), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBroadcastEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	botID := ts.createRunningBot(t, 100, 101)
	id := ts.createAd(t, map[string]any{
		"user_id": 1, "title": "t", "content": "c", "target_bots": []int64{botID},
	})

	resp, data := ts.do(t, http.MethodPost, fmt.Sprintf("/api/advertisements/%d/broadcast", id), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))

	deadline := time.Now().Add(3 * time.Second)
	var status struct {
		Status  string `json:"status"`
		Metrics *struct {
			TotalRecipients int `json:"total_recipients"`
			Successful      int `json:"successful"`
			Failed          int `json:"failed"`
		} `json:"metrics"`
	}
	for time.Now().Before(deadline) {
		_, data = ts.do(t, http.MethodGet, fmt.Sprintf("/api/advertisements/%d/status", id), nil)
		require.NoError(t, json.Unmarshal(data, &status))
		if status.Status == "completed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, "completed", status.Status)
	require.NotNil(t, status.Metrics)
	assert.Equal(t, 2, status.Metrics.TotalRecipients)
	assert.Equal(t, 2, status.Metrics.Successful)
	assert.Equal(t, 0, status.Metrics.Failed)
	assert.Equal(t, 2, ts.factory.sent())
}

func TestBroadcastRejections(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/advertisements/404/broadcast", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// No running bots: 400 and the advertisement moves to failed.
	id := ts.createAd(t, map[string]any{"user_id": 1, "title": "t", "content": "c", "target_bots": []int64{99}})
	resp, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/advertisements/%d/broadcast", id), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	ad, err := ts.store.GetAd(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ads.StatusFailed, ad.Status)

	// Already broadcasting: 409.
	id2 := ts.createAd(t, map[string]any{"user_id": 1, "title": "t", "content": "c"})
	require.NoError(t, ts.store.Transition(context.Background(), id2,
		[]ads.Status{ads.StatusPending}, ads.StatusBroadcasting, time.Now()))
	resp, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/advertisements/%d/broadcast", id2), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBotEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, data := ts.do(t, http.MethodPost, "/api/bots", map[string]any{
		"user_id": 1, "token": "good-token", "name": "promo-bot",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var created struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "stopped", created.Status)
	assert.NotContains(t, string(data), "good-token", "token must not be echoed")

	resp, data = ts.do(t, http.MethodPost, fmt.Sprintf("/api/bots/%d/start", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var started struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(data, &started))
	assert.Equal(t, "running", started.Status)

	resp, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/bots/%d/chats", created.ID), map[string]any{"chat_id": 42})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	ids, err := ts.store.ChatIDs(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, ids)

	resp, data = ts.do(t, http.MethodPost, fmt.Sprintf("/api/bots/%d/stop", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stopped struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(data, &stopped))
	assert.Equal(t, "stopped", stopped.Status)

	resp, _ = ts.do(t, http.MethodGet, "/api/bots?user_id=1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBotStartRejectedCredential(t *testing.T) {
	ts := newTestServer(t)
	ts.factory.failTokens["bad-token"] = true

	resp, data := ts.do(t, http.MethodPost, "/api/bots", map[string]any{
		"user_id": 1, "token": "bad-token", "name": "broken",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &created))

	resp, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/bots/%d/start", created.ID), nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	b, err := ts.store.GetBot(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, ads.BotError, b.Status)

	resp, _ = ts.do(t, http.MethodPost, "/api/bots/777/start", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegisterBotValidation(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/api/bots", map[string]any{"user_id": 1, "name": "no-token"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/bots/1/chats", map[string]any{"chat_id": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
