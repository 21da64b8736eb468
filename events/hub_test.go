package events_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	gorillaws "github.com/gorilla/websocket"
	"gotest.tools/v3/assert"

	"github.com/goccy/go-json"

	"pkg.world.dev/epochal/events"
)

func startHubServer(t *testing.T) (*events.Hub, string) {
	hub := events.NewHub()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/events", events.WebSocketUpgrader)
	app.Get("/events", websocket.New(hub.NewWebSocketNotificationHandler()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = app.Shutdown()
	})
	return hub, "ws://" + ln.Addr().String() + "/events"
}

func waitForConnections(t *testing.T, hub *events.Hub, want int) {
	deadline := time.Now().Add(5 * time.Second)
	for hub.ConnectionAmount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d connections", want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastsToEverySubscriber(t *testing.T) {
	hub, url := startHubServer(t)
	defer hub.Shutdown()

	const subscribers = 3
	dialers := make([]*gorillaws.Conn, subscribers)
	for i := range dialers {
		dial, _, err := gorillaws.DefaultDialer.Dial(url, nil)
		assert.NilError(t, err)
		dialers[i] = dial
	}
	waitForConnections(t, hub, subscribers)

	assert.NilError(t, hub.Emit(events.KindReceive, map[string]string{"uuid": "abc"}))
	assert.NilError(t, hub.Emit(events.KindAdvance, map[string]uint64{"position": 42}))

	var wg sync.WaitGroup
	for _, dialer := range dialers {
		dialer := dialer
		wg.Add(1)
		go func() {
			defer wg.Done()
			kinds := make([]string, 0, 2)
			for j := 0; j < 2; j++ {
				mode, message, err := dialer.ReadMessage()
				assert.NilError(t, err)
				assert.Equal(t, mode, gorillaws.TextMessage)
				var n events.Notification
				assert.NilError(t, json.Unmarshal(message, &n))
				kinds = append(kinds, n.Kind)
			}
			assert.DeepEqual(t, kinds, []string{events.KindReceive, events.KindAdvance})
		}()
	}
	wg.Wait()
}

func TestHubUnregistersClosedSubscribers(t *testing.T) {
	hub, url := startHubServer(t)
	defer hub.Shutdown()

	dial, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	assert.NilError(t, err)
	waitForConnections(t, hub, 1)

	assert.NilError(t, dial.Close())
	waitForConnections(t, hub, 0)

	// A broadcast with nobody listening still succeeds.
	assert.NilError(t, hub.Emit(events.KindRelease, nil))
}

func TestEmitAfterShutdownFails(t *testing.T) {
	hub := events.NewHub()
	hub.Shutdown()
	assert.Assert(t, hub.Emit(events.KindReceive, nil) != nil)
}
