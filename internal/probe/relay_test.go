package probe

import (
	"errors"
	"sync"
	"testing"
	"time"

	"SpectraIDS/internal/broadcast"
	"SpectraIDS/internal/config"
	"SpectraIDS/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := StartEmbedded("127.0.0.1", -1)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestRelay_RoundTrip(t *testing.T) {
	srv := startServer(t)

	tail, err := NewSubscriber(srv.ClientURL(), "ids.test")
	require.NoError(t, err)
	defer tail.Close()

	var mu sync.Mutex
	var got []*model.DetectionEvent
	require.NoError(t, tail.Start(func(ev *model.DetectionEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))

	relay, err := NewPublisherFromConfig(config.NATSConfig{URL: srv.ClientURL(), Subject: "ids.test"})
	require.NoError(t, err)
	defer relay.Close()

	b := broadcast.New(8)
	defer b.Close()
	b.RegisterSink(relay)
	b.Publish(&model.DetectionEvent{
		ID: "evt-1", Origin: model.OriginSimulator, SrcIP: "1.2.3.4", DstIP: "5.6.7.8",
		SrcPort: 4000, DstPort: 22, Label: "brute_force", AttackType: "brute_force", Confidence: 0.81,
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	ev := got[0]
	mu.Unlock()
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, "brute_force", ev.Label)
	assert.Equal(t, uint16(22), ev.DstPort)
	assert.InDelta(t, 0.81, ev.Confidence, 1e-9)
}

func TestSubscriber_SkipsGarbage(t *testing.T) {
	srv := startServer(t)

	tail, err := NewSubscriber(srv.ClientURL(), "ids.garbage")
	require.NoError(t, err)
	defer tail.Close()

	received := make(chan *model.DetectionEvent, 4)
	require.NoError(t, tail.Start(func(ev *model.DetectionEvent) { received <- ev }))

	relay, err := NewPublisher(srv.ClientURL(), "ids.garbage")
	require.NoError(t, err)
	defer relay.Close()

	require.NoError(t, relay.Send([]byte("not json")))
	require.NoError(t, relay.Send([]byte(`{"id":"ok","label":"dos"}`)))

	select {
	case ev := <-received:
		assert.Equal(t, "ok", ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid event not delivered")
	}
}

func TestPublisher_SendAfterClose(t *testing.T) {
	srv := startServer(t)
	relay, err := NewPublisher(srv.ClientURL(), "ids.closed")
	require.NoError(t, err)

	relay.Close()
	require.Eventually(t, func() bool { return relay.nc.IsClosed() }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, errors.Is(relay.Send([]byte("{}")), ErrNotConnected))
}

func TestNewPublisher_Unreachable(t *testing.T) {
	_, err := NewPublisher("nats://127.0.0.1:1", "ids.none")
	assert.Error(t, err)
}

func TestRelay_StaysRegisteredWhenPublishFails(t *testing.T) {
	srv := startServer(t)
	relay, err := NewPublisher(srv.ClientURL(), "ids.down")
	require.NoError(t, err)

	b := broadcast.New(4)
	defer b.Close()
	b.RegisterSink(relay)

	relay.Close()
	require.Eventually(t, func() bool { return relay.nc.IsClosed() }, 2*time.Second, 10*time.Millisecond)
	for i := 0; i < 10; i++ {
		b.Publish(&model.DetectionEvent{ID: "lost", Origin: model.OriginSimulator})
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, b.Count())
}
