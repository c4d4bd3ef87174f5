package ws

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/deathcounter/backend/internal/ledger"
)

var (
	// ErrNoRenderer is returned by provider calls while no renderer has
	// said hello.
	ErrNoRenderer = errors.New("no panel renderer connected")
	// ErrTooManyConnections is returned by AddClient at the connection limit.
	ErrTooManyConnections = errors.New("too many renderer connections")
)

type client struct {
	conn *websocket.Conn
	b    *Bridge
	send chan []byte

	// Guarded by Bridge.mu.
	hello bool
	ready map[ledger.EntityID]bool
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Bridge is a display provider reached over websocket connections from
// panel renderers. It is available while at least one renderer has said
// hello; every provider call is fanned out to those renderers.
type Bridge struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	greeted  int

	// registered is replayed to renderers that join after registration.
	registered *RegisterPayload

	listenerMu sync.Mutex
	listener   func(available bool)
}

// NewBridge creates a Bridge. maxConns <= 0 means no limit.
func NewBridge(maxConns int) *Bridge {
	return &Bridge{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
	}
}

// SetListener registers fn to be called when the bridge becomes available
// or unavailable. fn runs off the dispatcher with no locks held, and
// notifications may arrive out of order.
func (b *Bridge) SetListener(fn func(available bool)) {
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	b.listener = fn
}

// AddClient attaches a renderer connection and starts its write pump.
func (b *Bridge) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		return nil, ErrTooManyConnections
	}
	c := &client{
		conn:  conn,
		b:     b,
		send:  make(chan []byte, 256),
		ready: make(map[ledger.EntityID]bool),
	}
	b.clients[c] = true
	go c.writePump()
	return c, nil
}

// RemoveClient detaches a renderer. Losing the last greeted renderer makes
// the bridge unavailable.
func (b *Bridge) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, c)
	close(c.send)
	lost := false
	if c.hello {
		c.hello = false
		b.greeted--
		lost = b.greeted == 0
	}
	b.mu.Unlock()

	if lost {
		log.Info("last panel renderer left")
		b.notify(false)
	}
}

func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// handle applies one message from a renderer.
func (b *Bridge) handle(c *client, data []byte) error {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	switch msg.Type {
	case MsgHello:
		var hello HelloPayload
		_ = json.Unmarshal(msg.Payload, &hello)
		b.mu.Lock()
		if c.hello {
			b.mu.Unlock()
			return nil
		}
		c.hello = true
		b.greeted++
		first := b.greeted == 1
		reg := b.registered
		b.mu.Unlock()

		log.Infof("panel renderer %q connected", hello.Name)
		if first {
			b.notify(true)
		} else if reg != nil {
			b.sendTo(c, WSMessage{Type: MsgRegister, Payload: *reg})
		}
	case MsgReady, MsgUnready:
		var p ReadyPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		b.mu.Lock()
		for _, s := range p.Subjects {
			id, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				continue
			}
			if msg.Type == MsgReady {
				c.ready[ledger.EntityID(id)] = true
			} else {
				delete(c.ready, ledger.EntityID(id))
			}
		}
		b.mu.Unlock()
	case MsgBye:
		b.RemoveClient(c)
	default:
		b.sendTo(c, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: "unknown message type " + string(msg.Type)}})
	}
	return nil
}

func (b *Bridge) notify(available bool) {
	b.listenerMu.Lock()
	fn := b.listener
	b.listenerMu.Unlock()
	if fn != nil {
		fn(available)
	}
}

// Available reports whether a renderer has said hello.
func (b *Bridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.greeted > 0
}

func (b *Bridge) RegisterSurface(owner, surface string, definition []byte) (bool, error) {
	reg := &RegisterPayload{
		Owner:      owner,
		Surface:    surface,
		Definition: json.RawMessage(append([]byte(nil), definition...)),
	}
	if err := b.broadcast(WSMessage{Type: MsgRegister, Payload: reg}); err != nil {
		return false, err
	}
	b.mu.Lock()
	b.registered = reg
	b.mu.Unlock()
	return true, nil
}

func (b *Bridge) SetAttribute(owner, element, attr, value string, subject ledger.EntityID) error {
	return b.broadcast(WSMessage{Type: MsgSetAttribute, Payload: AttributePayload{
		Owner:   owner,
		Element: element,
		Attr:    attr,
		Value:   value,
		Subject: subject,
	}})
}

func (b *Bridge) Refresh(owner, surface string, subject ledger.EntityID) error {
	return b.broadcast(WSMessage{Type: MsgRefresh, Payload: SurfacePayload{Owner: owner, Surface: surface, Subject: subject}})
}

func (b *Bridge) Show(owner, surface string, subject ledger.EntityID) error {
	return b.broadcast(WSMessage{Type: MsgShow, Payload: SurfacePayload{Owner: owner, Surface: surface, Subject: subject}})
}

func (b *Bridge) Hide(owner, surface string, subject ledger.EntityID) error {
	return b.broadcast(WSMessage{Type: MsgHide, Payload: SurfacePayload{Owner: owner, Surface: surface, Subject: subject}})
}

// IsReady reports whether any renderer marked subject ready.
func (b *Bridge) IsReady(subject ledger.EntityID) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.greeted == 0 {
		return false, ErrNoRenderer
	}
	for c := range b.clients {
		if c.hello && c.ready[subject] {
			return true, nil
		}
	}
	return false, nil
}

// broadcast sends msg to every greeted renderer. Renderers that cannot
// keep up are disconnected.
func (b *Bridge) broadcast(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		if c.hello {
			clients = append(clients, c)
		}
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return ErrNoRenderer
	}
	for _, c := range clients {
		b.trySend(c, data)
	}
	return nil
}

func (b *Bridge) sendTo(c *client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("marshaling %s: %v", msg.Type, err)
		return
	}
	b.trySend(c, data)
}

func (b *Bridge) trySend(c *client, data []byte) {
	b.mu.RLock()
	_, live := b.clients[c]
	sent := false
	if live {
		select {
		case c.send <- data:
			sent = true
		default:
		}
	}
	b.mu.RUnlock()

	if live && !sent {
		// Provider calls run on the dispatcher; the availability listener
		// must not be invoked from there.
		log.Warn("panel renderer too slow, disconnecting")
		go b.RemoveClient(c)
	}
}
