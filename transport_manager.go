package pkcommand

import (
	"log/slog"
	"sync"
)

type subscriber struct {
	id       uint64
	callback FrameListener
}

// TransportManager is a wrapper around the frame transport.
// It dispatches received frames to subscribers and guards sending,
// so that multiple services can share a single transport.
type TransportManager struct {
	logger    *slog.Logger
	mu        sync.Mutex
	transport Transport
	listeners []subscriber
	nextSubId uint64
}

func NewTransportManager(transport Transport, logger *slog.Logger) *TransportManager {
	if logger == nil {
		logger = slog.Default()
	}
	tm := &TransportManager{
		logger:    logger.With("service", "[TRANSPORT]"),
		transport: transport,
	}
	if transport != nil {
		transport.Subscribe(tm)
	}
	return tm
}

// Implements the FrameListener interface
// This handles all received frames from Transport
// [listener.Handle] should not be blocking !
func (tm *TransportManager) Handle(frame []byte) {
	tm.mu.Lock()
	listeners := make([]subscriber, len(tm.listeners))
	copy(listeners, tm.listeners)
	tm.mu.Unlock()

	for _, sub := range listeners {
		sub.callback.Handle(frame)
	}
}

// Set transport
func (tm *TransportManager) SetTransport(transport Transport) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.transport = transport
	transport.Subscribe(tm)
}

func (tm *TransportManager) Transport() Transport {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.transport
}

// Send a single PK frame
// Limited error handling
func (tm *TransportManager) Send(frame []byte) error {
	tm.mu.Lock()
	transport := tm.transport
	tm.mu.Unlock()
	err := transport.Send(frame)
	if err != nil {
		tm.logger.Warn("error sending frame", "err", err)
	}
	return err
}

// Subscribe to received frames
// Returns a cancel func to remove subscription
func (tm *TransportManager) Subscribe(callback FrameListener) (cancel func()) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	id := tm.nextSubId
	tm.nextSubId++
	tm.listeners = append(tm.listeners, subscriber{id: id, callback: callback})
	return func() {
		tm.mu.Lock()
		defer tm.mu.Unlock()
		for i, sub := range tm.listeners {
			if sub.id == id {
				tm.listeners = append(tm.listeners[:i], tm.listeners[i+1:]...)
				return
			}
		}
	}
}
