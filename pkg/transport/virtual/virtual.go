// Package virtual is an in-memory transport primarily used for testing.
// Every bus connected to the same channel name receives the frames the
// others send, like peers sharing a wire.
package virtual

import (
	"errors"
	"sync"

	pkcommand "github.com/lingrottin/go-pkcommand"
	"github.com/lingrottin/go-pkcommand/pkg/transport"
)

func init() {
	transport.Register("virtual", NewVirtualBus)
}

var hubsMu sync.Mutex
var hubs = map[string]*hub{}

type hub struct {
	mu    sync.Mutex
	buses []*Bus
}

func getHub(channel string) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[channel]
	if !ok {
		h = &hub{}
		hubs[channel] = h
	}
	return h
}

func (h *hub) attach(b *Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buses = append(h.buses, b)
}

func (h *hub) detach(b *Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, other := range h.buses {
		if other == b {
			h.buses = append(h.buses[:i], h.buses[i+1:]...)
			return
		}
	}
}

func (h *hub) broadcast(from *Bus, frame []byte) {
	h.mu.Lock()
	peers := make([]*Bus, len(h.buses))
	copy(peers, h.buses)
	h.mu.Unlock()
	for _, peer := range peers {
		if peer != from {
			peer.deliver(frame)
		}
	}
}

// Bus is one endpoint attached to a virtual channel.
type Bus struct {
	mu           sync.Mutex
	channel      string
	hub          *hub
	framehandler pkcommand.FrameListener
	rx           chan []byte
	stopChan     chan struct{}
	wg           sync.WaitGroup
	isRunning    bool
	// drop returns true to lose a frame before delivery, for loss
	// injection in tests
	drop func(frame []byte) bool
}

func NewVirtualBus(channel string) (pkcommand.Transport, error) {
	return &Bus{channel: channel, rx: make(chan []byte, 64)}, nil
}

// SetDropFunc installs a frame loss hook for incoming frames.
func (b *Bus) SetDropFunc(drop func(frame []byte) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop = drop
}

func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hub != nil {
		return errors.New("already connected")
	}
	b.hub = getHub(b.channel)
	b.hub.attach(b)
	b.stopChan = make(chan struct{})
	b.isRunning = true
	b.wg.Add(1)
	go b.pump()
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return nil
	}
	b.isRunning = false
	hub := b.hub
	b.hub = nil
	close(b.stopChan)
	b.mu.Unlock()
	hub.detach(b)
	b.wg.Wait()
	return nil
}

func (b *Bus) Send(frame []byte) error {
	b.mu.Lock()
	hub := b.hub
	b.mu.Unlock()
	if hub == nil {
		return errors.New("no active connection, abort send")
	}
	hub.broadcast(b, append([]byte{}, frame...))
	return nil
}

func (b *Bus) Subscribe(framehandler pkcommand.FrameListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
}

func (b *Bus) deliver(frame []byte) {
	b.mu.Lock()
	drop := b.drop
	running := b.isRunning
	b.mu.Unlock()
	if !running || (drop != nil && drop(frame)) {
		return
	}
	select {
	case b.rx <- frame:
	default:
		// receiver too slow, frame lost like on a real lossy link
	}
}

// pump decouples delivery from the sender goroutine
func (b *Bus) pump() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopChan:
			return
		case frame := <-b.rx:
			b.mu.Lock()
			handler := b.framehandler
			b.mu.Unlock()
			if handler != nil {
				handler.Handle(frame)
			}
		}
	}
}
