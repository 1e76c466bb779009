package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"risk_engine/internal/core"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAlertChannel struct {
	name     string
	sent     []core.RiskAlert
	sendFunc func(ctx context.Context, alert core.RiskAlert) error
	mu       sync.Mutex
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert core.RiskAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, alert)
	}
	return nil
}

func (m *mockAlertChannel) getSent() []core.RiskAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]core.RiskAlert, len(m.sent))
	copy(res, m.sent)
	return res
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func sampleAlert(userID string, severity core.AlertSeverity) core.RiskAlert {
	return core.RiskAlert{
		ID:        "a1",
		UserID:    userID,
		AlertType: core.AlertTypeExposureLimit,
		Severity:  severity,
		Title:     "Risk Limit Breach",
		Message:   "Limit breach detected for BTCUSDT - exposure. Current: 46000.00, Limit: 10000.00",
		Symbol:    "BTCUSDT",
		Data:      map[string]string{"limit_id": "l1"},
		CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAlertManager_Notify(t *testing.T) {
	am := NewAlertManager(core.SeverityInfo, &mockLogger{})

	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2", sendFunc: func(ctx context.Context, a core.RiskAlert) error {
		return errors.New("boom")
	}}
	am.AddChannel(ch1)
	am.AddChannel(ch2)

	am.Notify(context.Background(), sampleAlert("u1", core.SeverityError))
	am.Wait()

	require.Len(t, ch1.getSent(), 1)
	require.Len(t, ch2.getSent(), 1, "failing channel still attempted")
	assert.Equal(t, "Risk Limit Breach", ch1.getSent()[0].Title)
	assert.Equal(t, "l1", ch1.getSent()[0].Data["limit_id"])
}

func TestAlertManager_SeverityFloor(t *testing.T) {
	am := NewAlertManager(core.SeverityError, &mockLogger{})
	ch := &mockAlertChannel{name: "mock"}
	am.AddChannel(ch)

	am.Notify(context.Background(), sampleAlert("u1", core.SeverityWarning))
	am.Notify(context.Background(), sampleAlert("u1", core.SeverityCritical))
	am.Wait()

	sent := ch.getSent()
	require.Len(t, sent, 1)
	assert.Equal(t, core.SeverityCritical, sent[0].Severity)
}

func TestAlertManager_DeliveryOutlivesCancelledContext(t *testing.T) {
	am := NewAlertManager(core.SeverityInfo, &mockLogger{})
	var ctxErr error
	ch := &mockAlertChannel{name: "mock", sendFunc: func(ctx context.Context, a core.RiskAlert) error {
		ctxErr = ctx.Err()
		return nil
	}}
	am.AddChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	am.Notify(ctx, sampleAlert("u1", core.SeverityInfo))
	am.Wait()

	assert.NoError(t, ctxErr)
}

func TestSlackChannel_Send(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL)
	require.NoError(t, ch.Send(context.Background(), sampleAlert("u1", core.SeverityCritical)))

	attachments := body["attachments"].([]interface{})
	first := attachments[0].(map[string]interface{})
	assert.Equal(t, "#8b0000", first["color"])
	assert.Equal(t, "[critical] Risk Limit Breach", first["pretext"])

	assert.NoError(t, NewSlackChannel("").Send(context.Background(), sampleAlert("u1", core.SeverityInfo)))
}

func TestSlackChannel_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewSlackChannel(server.URL).Send(context.Background(), sampleAlert("u1", core.SeverityInfo))
	assert.Error(t, err)
}

func TestTelegramChannel_Send(t *testing.T) {
	var path string
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewTelegramChannel("token", "chat")
	ch.apiBase = server.URL
	require.NoError(t, ch.Send(context.Background(), sampleAlert("u1", core.SeverityWarning)))

	assert.Equal(t, "/bottoken/sendMessage", path)
	assert.Equal(t, "chat", payload["chat_id"])
	text := payload["text"].(string)
	assert.True(t, strings.Contains(text, "[WARNING] Risk Limit Breach"))
	assert.True(t, strings.Contains(text, "*limit_id*: l1"))
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaChannel_Send(t *testing.T) {
	w := &fakeWriter{}
	ch := &KafkaChannel{writer: w, topic: "risk.alerts"}

	alert := sampleAlert("u1", core.SeverityError)
	require.NoError(t, ch.Send(context.Background(), alert))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "u1", string(msg.Key))
	assert.Equal(t, alert.CreatedAt, msg.Time)

	var decoded core.RiskAlert
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, alert.ID, decoded.ID)

	w.err = errors.New("broker down")
	err := ch.Send(context.Background(), alert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk.alerts")
}

func TestHub_RoutesByUser(t *testing.T) {
	hub := NewHub(&mockLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	c1 := NewClient("c1", "u1")
	c2 := NewClient("c2", "u2")
	hub.Register(c1)
	hub.Register(c2)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send(ctx, sampleAlert("u1", core.SeverityInfo)))

	select {
	case msg := <-c1.GetSendChan():
		assert.Equal(t, TypeRiskAlert, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("u1 client did not receive alert")
	}

	select {
	case <-c2.GetSendChan():
		t.Fatal("u2 client received another user's alert")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RegisterAfterStopClosesClient(t *testing.T) {
	hub := NewHub(&mockLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	c := NewClient("c1", "u1")
	hub.Register(c)
	assert.False(t, c.Send(Message{Type: TypeRiskAlert}))
	hub.Unregister(c)
}

func TestStreamHandler_DeliversAlerts(t *testing.T) {
	hub := NewHub(&mockLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	server := httptest.NewServer(NewStreamHandler(hub, []string{"*"}, 10, &mockLogger{}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Send(ctx, sampleAlert("u1", core.SeverityCritical)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type string         `json:"type"`
		Data core.RiskAlert `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, TypeRiskAlert, frame.Type)
	assert.Equal(t, core.SeverityCritical, frame.Data.Severity)
}

func TestStreamHandler_RequiresUser(t *testing.T) {
	hub := NewHub(&mockLogger{})
	h := NewStreamHandler(hub, nil, 10, &mockLogger{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/alerts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamHandler_CheckOrigin(t *testing.T) {
	h := NewStreamHandler(NewHub(&mockLogger{}), []string{"https://risk.example.com"}, 10, &mockLogger{})

	req := httptest.NewRequest(http.MethodGet, "/ws/alerts", nil)
	assert.True(t, h.checkOrigin(req), "no origin header")

	req.Header.Set("Origin", "https://risk.example.com")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, h.checkOrigin(req))
}
