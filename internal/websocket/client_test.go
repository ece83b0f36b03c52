package websocket

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SpectraIDS/internal/broadcast"
	"SpectraIDS/internal/model"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, b *broadcast.Broadcaster) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewHandler(b))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return b.Count() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestClient_Echo(t *testing.T) {
	b := broadcast.New(8)
	defer b.Close()
	conn := dial(t, b)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hello"}`, string(data))
}

func TestClient_ReceivesPublishedEvents(t *testing.T) {
	b := broadcast.New(8)
	defer b.Close()
	conn := dial(t, b)

	for _, id := range []string{"one", "two"} {
		b.Publish(&model.DetectionEvent{ID: id, Origin: model.OriginSimulator, Label: "probe", AttackType: "probe", Confidence: 0.7})
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range []string{"one", "two"} {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev model.DetectionEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, want, ev.ID)
		assert.Equal(t, "probe", ev.Label)
	}
}

func TestClient_DisconnectUnregisters(t *testing.T) {
	b := broadcast.New(8)
	defer b.Close()
	conn := dial(t, b)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return b.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NotPanics(t, func() { b.Publish(&model.DetectionEvent{ID: "late"}) })
}

func TestClient_ClosedWhenDroppedForFullOutbox(t *testing.T) {
	b := broadcast.New(1)
	defer b.Close()
	conn := dial(t, b)

	// The peer does not read, so the socket buffers fill and the outbox
	// overflows.
	big := strings.Repeat("x", 512*1024)
	for i := 0; i < 64 && b.Count() > 0; i++ {
		b.Publish(&model.DetectionEvent{ID: "bulk", Origin: model.OriginSimulator, Label: big})
	}
	require.Eventually(t, func() bool { return b.Count() == 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) {
				assert.False(t, netErr.Timeout(), "connection was left open")
			}
			return
		}
	}
}
