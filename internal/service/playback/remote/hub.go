// Package remote drives two <video> slots in a browser attached over a
// websocket. The browser applies commands and reports play results and
// natural clip ends.
package remote

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"virtual-avatar-service/internal/observability/logging"
	"virtual-avatar-service/internal/observability/metrics"
)

var (
	ErrNoPlayer     = errors.New("no player attached")
	ErrPlayRejected = errors.New("player rejected play")
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 64
	maxEventSize = 4096
)

// Command ops.
const (
	OpSource  = "source"
	OpLoop    = "loop"
	OpMuted   = "muted"
	OpLoad    = "load"
	OpPlay    = "play"
	OpPause   = "pause"
	OpSeek    = "seek"
	OpOpacity = "opacity"
	// OpSync brings a newly attached player up to date.
	OpSync = "sync"
)

// Event types reported by the player.
const (
	EventPlayed = "played"
	EventEnded  = "ended"
)

// Command is sent to the player. It always carries the full slot state so
// the player can apply it without history.
type Command struct {
	Op         string  `json:"op"`
	Slot       int     `json:"slot"`
	Locator    string  `json:"locator"`
	Loop       bool    `json:"loop"`
	Muted      bool    `json:"muted"`
	Opacity    float64 `json:"opacity"`
	Playing    bool    `json:"playing"`
	PositionMs int64   `json:"positionMs,omitempty"`
	PlayID     uint64  `json:"playId,omitempty"`
}

// Event is reported by the player.
type Event struct {
	Type    string `json:"type"`
	Slot    int    `json:"slot"`
	Locator string `json:"locator,omitempty"`
	PlayID  uint64 `json:"playId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Options configures a Hub.
type Options struct {
	// CheckOrigin defaults to allowing every origin.
	CheckOrigin func(*http.Request) bool
	Metrics     *metrics.Metrics
	Logger      *zerolog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan Command
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub serves the player websocket and owns the two remote elements. One
// player is attached at a time; a new connection replaces the old one.
type Hub struct {
	upgrader websocket.Upgrader
	slots    [2]*Element
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu      sync.Mutex
	current *client
	waiters map[uint64]chan error
	nextID  uint64
	closed  bool
}

// NewHub creates a hub with two detached elements.
func NewHub(opts Options) *Hub {
	h := &Hub{
		metrics: opts.Metrics,
		waiters: make(map[uint64]chan error),
	}
	if h.metrics == nil {
		h.metrics = metrics.DefaultMetrics
	}
	if opts.Logger != nil {
		h.log = *opts.Logger
	} else {
		h.log = logging.WithComponent("player-hub")
	}
	check := opts.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: check}
	for i := range h.slots {
		h.slots[i] = &Element{hub: h, slot: i}
	}
	return h
}

// Elements returns the two slots.
func (h *Hub) Elements() [2]*Element { return h.slots }

// Connected reports whether a player is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}

// ServeHTTP upgrades the request and serves the player until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Player upgrade failed")
		return
	}
	conn.SetReadLimit(maxEventSize)

	c := &client{conn: conn, send: make(chan Command, sendBuffer), done: make(chan struct{})}
	if !h.attach(c) {
		c.close()
		return
	}
	h.metrics.RecordPlayerConnected()
	h.log.Info().Str("remote", r.RemoteAddr).Msg("Player attached")

	go h.writePump(c)
	for _, el := range h.slots {
		h.deliver(c, el.command(OpSync, 0))
	}
	h.readPump(c)

	h.detach(c)
	h.metrics.RecordPlayerDisconnected()
	h.log.Info().Str("remote", r.RemoteAddr).Msg("Player detached")
}

// Close detaches the player and fails pending plays.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	c := h.current
	h.mu.Unlock()
	if c != nil {
		c.close()
		h.detach(c)
	}
}

func (h *Hub) attach(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	old := h.current
	h.current = c
	h.mu.Unlock()

	if old != nil {
		old.close()
		h.log.Info().Msg("Player replaced by a new connection")
	}
	return true
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if h.current != c {
		h.mu.Unlock()
		return
	}
	h.current = nil
	waiters := h.waiters
	h.waiters = make(map[uint64]chan error)
	h.mu.Unlock()

	c.close()
	for _, ch := range waiters {
		ch <- ErrNoPlayer
	}
}

func (h *Hub) writePump(c *client) {
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(cmd); err != nil {
				h.log.Warn().Err(err).Msg("Player write failed")
				c.close()
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					h.log.Debug().Err(err).Msg("Player read ended")
				}
			}
			return
		}
		h.dispatch(ev)
	}
}

func (h *Hub) dispatch(ev Event) {
	switch ev.Type {
	case EventPlayed:
		var err error
		if ev.Error != "" {
			err = fmt.Errorf("%w: %s", ErrPlayRejected, ev.Error)
		}
		h.resolve(ev.PlayID, err)
	case EventEnded:
		if ev.Slot < 0 || ev.Slot >= len(h.slots) {
			h.log.Warn().Int("slot", ev.Slot).Msg("Ended event for unknown slot")
			return
		}
		h.slots[ev.Slot].ended(ev.Locator)
	default:
		h.log.Warn().Str("type", ev.Type).Msg("Unknown player event")
	}
}

// send delivers cmd to the attached player.
func (h *Hub) send(cmd Command) bool {
	h.mu.Lock()
	c := h.current
	h.mu.Unlock()
	if c == nil {
		return false
	}
	return h.deliver(c, cmd)
}

func (h *Hub) deliver(c *client, cmd Command) bool {
	select {
	case <-c.done:
		return false
	case c.send <- cmd:
		return true
	default:
		h.log.Warn().Str("op", cmd.Op).Int("slot", cmd.Slot).Msg("Player too slow, dropping connection")
		c.close()
		return false
	}
}

// await registers a play acknowledgement.
func (h *Hub) await() (uint64, chan error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan error, 1)
	h.waiters[h.nextID] = ch
	return h.nextID, ch
}

func (h *Hub) forget(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.waiters, id)
}

func (h *Hub) resolve(id uint64, err error) {
	h.mu.Lock()
	ch, ok := h.waiters[id]
	delete(h.waiters, id)
	h.mu.Unlock()
	if ok {
		ch <- err
	}
}
