// Package events broadcasts world notifications to websocket subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

const (
	writeDeadline        = 5 * time.Second
	shutdownPollInterval = 200 * time.Millisecond
)

// Notification kinds, one per world event.
const (
	KindBuffer  = "buffer"
	KindReceive = "receive"
	KindIgnore  = "ignore"
	KindReject  = "reject"
	KindAdvance = "advance"
	KindDrop    = "drop"
	KindRelease = "release"
)

// Notification is the wire form delivered to every subscriber.
type Notification struct {
	Kind   string          `json:"kind"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// connAndDoneChan carries a websocket connection together with a channel the
// hub loop uses to signal the web framework back once the connection has been
// registered or unregistered.
type connAndDoneChan struct {
	connection *websocket.Conn
	doneChan   chan bool
}

type Hub struct {
	websocketConnections   map[*websocket.Conn]bool
	broadcast              chan []byte
	getAmountOfConnections chan chan int
	register               chan connAndDoneChan
	unregister             chan connAndDoneChan
	shutdown               chan bool
	isRunning              atomic.Bool
}

func NewHub() *Hub {
	hub := Hub{
		websocketConnections:   map[*websocket.Conn]bool{},
		broadcast:              make(chan []byte),
		getAmountOfConnections: make(chan chan int),
		register:               make(chan connAndDoneChan),
		unregister:             make(chan connAndDoneChan),
		shutdown:               make(chan bool),
		isRunning:              atomic.Bool{},
	}
	hub.isRunning.Store(false)
	go func() {
		hub.Run()
	}()
	for !hub.isRunning.Load() {
		time.Sleep(time.Millisecond)
	}
	return &hub
}

func (h *Hub) ConnectionAmount() int {
	connAmountChan := make(chan int)
	h.getAmountOfConnections <- connAmountChan
	return <-connAmountChan
}

// Emit serializes the detail and broadcasts a notification of the given kind
// to every connected subscriber.
func (h *Hub) Emit(kind string, detail any) error {
	var raw json.RawMessage
	if detail != nil {
		bz, err := json.Marshal(detail)
		if err != nil {
			return eris.Wrap(err, "must use a json serializable type for notification details")
		}
		raw = bz
	}
	data, err := json.Marshal(Notification{Kind: kind, Detail: raw})
	if err != nil {
		return eris.Wrap(err, "")
	}
	if !h.isRunning.Load() {
		return eris.New("the notification hub is not running")
	}
	h.broadcast <- data
	return nil
}

func (h *Hub) RegisterConnection(ws *websocket.Conn) {
	doneChan := make(chan bool)
	h.register <- connAndDoneChan{
		connection: ws,
		doneChan:   doneChan,
	}
	<-doneChan
}

func (h *Hub) UnregisterConnection(ws *websocket.Conn) {
	if !h.isRunning.Load() {
		// The loop already closed every connection on shutdown.
		return
	}
	doneChan := make(chan bool)
	h.unregister <- connAndDoneChan{
		connection: ws,
		doneChan:   doneChan,
	}
	<-doneChan
}

func (h *Hub) Shutdown() {
	h.shutdown <- true
	// block until the loop fully exits.
	for {
		if !h.isRunning.Load() {
			break
		}
		time.Sleep(shutdownPollInterval)
	}
}

func (h *Hub) Run() {
	if h.isRunning.Load() {
		return
	}
	h.isRunning.Store(true)
	unregisterConnection := func(conn *websocket.Conn) {
		if _, ok := h.websocketConnections[conn]; ok {
			delete(h.websocketConnections, conn)
			err := eris.Wrap(conn.Close(), "")
			if err != nil {
				log.Logger.Error().Err(err).Msg(eris.ToString(err, true))
			}
		}
	}
Loop:
	for h.isRunning.Load() {
		select {
		case connChan := <-h.getAmountOfConnections:
			connChan <- len(h.websocketConnections)
		case connAndDone := <-h.register:
			h.websocketConnections[connAndDone.connection] = true
			connAndDone.doneChan <- true
		case connAndDone := <-h.unregister:
			unregisterConnection(connAndDone.connection)
			connAndDone.doneChan <- true
		case notification := <-h.broadcast:
			var waitGroup sync.WaitGroup
			for conn := range h.websocketConnections {
				waitGroup.Add(1)
				conn := conn
				go func() {
					defer waitGroup.Done()
					err := eris.Wrap(conn.SetWriteDeadline(time.Now().Add(writeDeadline)), "")
					if err == nil {
						err = eris.Wrap(conn.WriteMessage(websocket.TextMessage, notification), "")
					}
					if err != nil {
						go func() {
							h.UnregisterConnection(conn)
						}()
						log.Logger.Error().Err(err).Msg(eris.ToString(err, true))
					}
				}()
			}
			waitGroup.Wait()
		case <-h.shutdown:
			go func() {
				for range h.shutdown { //nolint:revive // This pattern drains the channel until closed
				}
			}()
			for conn := range h.websocketConnections {
				unregisterConnection(conn)
			}
			break Loop
		}
	}
	h.isRunning.Store(false)
}

// NewWebSocketNotificationHandler returns the connection handler the web
// framework invokes per subscriber. It keeps the connection registered until
// the peer goes away.
func (h *Hub) NewWebSocketNotificationHandler() func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		h.RegisterConnection(conn)
		// error is swallowed here, the function signatures in fiber require
		// this. Even the examples swallow the error.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.UnregisterConnection(conn)
	}
}

// WebSocketUpgrader gates the notification route to websocket upgrade
// requests.
func WebSocketUpgrader(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return eris.Wrap(c.Next(), "")
	}
	return fiber.ErrUpgradeRequired
}
