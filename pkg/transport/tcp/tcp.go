// Package tcp carries PK frames over a TCP connection with length
// prefixed framing. The channel is either "host:port" to dial, or
// "listen:host:port" to accept a single peer.
package tcp

import (
	"errors"
	"net"
	"strings"
	"sync"

	pkcommand "github.com/lingrottin/go-pkcommand"
	"github.com/lingrottin/go-pkcommand/pkg/transport"
)

func init() {
	transport.Register("tcp", NewTCPBus)
}

const listenPrefix = "listen:"

// Bus is a TCP backed transport endpoint.
type Bus struct {
	mu           sync.Mutex
	channel      string
	conn         net.Conn
	listener     net.Listener
	framehandler pkcommand.FrameListener
	wg           sync.WaitGroup
	isRunning    bool
}

func NewTCPBus(channel string) (pkcommand.Transport, error) {
	return &Bus{channel: channel}, nil
}

// Connect dials the peer, or accepts one connection in listen mode.
// e.g. "localhost:18000" or "listen::18000"
func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isRunning {
		return errors.New("already connected")
	}
	if address, ok := strings.CutPrefix(b.channel, listenPrefix); ok {
		listener, err := net.Listen("tcp", address)
		if err != nil {
			return err
		}
		b.listener = listener
		conn, err := listener.Accept()
		if err != nil {
			listener.Close()
			b.listener = nil
			return err
		}
		b.conn = conn
	} else {
		conn, err := net.Dial("tcp", b.channel)
		if err != nil {
			return err
		}
		b.conn = conn
	}
	if tcpConn, ok := b.conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return err
		}
	}
	b.isRunning = true
	b.wg.Add(1)
	go b.handleReception()
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return nil
	}
	b.isRunning = false
	conn := b.conn
	listener := b.listener
	b.conn = nil
	b.listener = nil
	b.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if listener != nil {
		listener.Close()
	}
	b.wg.Wait()
	return err
}

func (b *Bus) Send(frame []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errors.New("no active connection, abort send")
	}
	return transport.WriteFrame(conn, frame)
}

func (b *Bus) Subscribe(framehandler pkcommand.FrameListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
}

// handleReception reads frames until the connection closes and passes
// them to the subscribed handler
func (b *Bus) handleReception() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}
		frame, err := transport.ReadFrame(conn)
		if err != nil {
			return
		}
		b.mu.Lock()
		handler := b.framehandler
		b.mu.Unlock()
		if handler != nil {
			handler.Handle(frame)
		}
	}
}
