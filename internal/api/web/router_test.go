package web

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/lvdashuaibi/luckydraw/internal/api/graph"
	"github.com/lvdashuaibi/luckydraw/internal/feed"
	"github.com/lvdashuaibi/luckydraw/internal/gate"
	"github.com/lvdashuaibi/luckydraw/internal/lock"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/ratelimit"
	"github.com/lvdashuaibi/luckydraw/internal/service"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/lvdashuaibi/luckydraw/internal/ticket"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *service.EventService) {
	sched := timer.NewManual(time.Date(2024, 12, 20, 19, 0, 0, 0, time.UTC))
	mem := store.NewMemoryStore()
	mem.SetClock(sched.Now)
	hub := feed.NewHub(mem)

	svc := service.NewEventService(service.Dependencies{
		Store:      store.Observe(mem, hub),
		Hub:        hub,
		Scheduler:  sched,
		Tickets:    ticket.NewMemoryStore(),
		RateLimits: ratelimit.NewMemoryStateStore(),
		AuthCache:  gate.NewMemoryAuthCache(),
		Locker:     lock.NewLocalLock(sched),
	}, service.Options{})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Dispose)

	srv := NewServer(svc, graph.NewGraphQLServer(svc), Options{
		GraphQLPath:    "/graphql",
		SessionKey:     "test-session-key-0123456789abcdef",
		AllowAnyOrigin: true,
	})
	return srv.Router(), svc
}

func TestDeviceCookieIsIssuedOnce(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionName, cookies[0].Name)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Result().Cookies())
}

func TestGraphQLAccessUsesDeviceCookie(t *testing.T) {
	r, svc := newTestRouter(t)
	require.NoError(t, svc.UpdateAppConfig(context.Background(), model.AppConfig{
		DoorprizeStatus:   model.StatusOpen,
		DoorprizePasscode: "abc123",
	}))

	post := func(query string, cookie *http.Cookie) (*httptest.ResponseRecorder, map[string]interface{}) {
		body, err := json.Marshal(map[string]interface{}{"query": query})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if cookie != nil {
			req.AddCookie(cookie)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return w, out
	}

	w, out := post(`mutation { submitPasscode(target: "doorprize", passcode: "abc123") { decision } }`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, out["errors"])
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	_, out = post(`{ requestAccess(target: "doorprize") { decision } }`, cookies[0])
	require.Nil(t, out["errors"])
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "GRANTED", data["requestAccess"].(map[string]interface{})["decision"])

	// 新设备需要重新输入口令
	_, out = post(`{ requestAccess(target: "doorprize") { decision } }`, nil)
	data = out["data"].(map[string]interface{})
	assert.Equal(t, "PROMPT_PASSCODE", data["requestAccess"].(map[string]interface{})["decision"])
}

func TestImportAndExport(t *testing.T) {
	r, svc := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/participants/import", strings.NewReader("name\nAnn\nBob\nann\n"))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"added":2}`, w.Body.String())

	participants, err := svc.ListParticipants(context.Background())
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/export/winners.xlsx", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "winners.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), "Doorprize Winners")
	assert.Contains(t, f.GetSheetList(), "Award History")
}

func TestFeedRequiresTopic(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeedPushesSnapshots(t *testing.T) {
	r, svc := newTestRouter(t)
	ts := httptest.NewServer(r)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?topic=" + model.CollectionParticipants
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type message struct {
		Topic string                   `json:"topic"`
		Data  []map[string]interface{} `json:"data"`
	}
	read := func() message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var m message
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}

	first := read()
	assert.Equal(t, model.CollectionParticipants, first.Topic)
	assert.Empty(t, first.Data)

	_, err = svc.AddParticipant(context.Background(), "Ann")
	require.NoError(t, err)

	next := read()
	require.Len(t, next.Data, 1)
	assert.Equal(t, "Ann", next.Data[0]["name"])
}

func TestPlayground(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "'/graphql'")
}
