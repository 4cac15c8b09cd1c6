// Package serial carries PK frames over a serial port with length
// prefixed framing. The channel is "device@baud", e.g.
// "/dev/ttyUSB0@115200" ; the baud rate defaults to 115200.
package serial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	pkcommand "github.com/lingrottin/go-pkcommand"
	"github.com/lingrottin/go-pkcommand/pkg/transport"
	"github.com/tarm/serial"
)

func init() {
	transport.Register("serial", NewSerialBus)
}

const defaultBaud = 115200

// Bus is a serial port backed transport endpoint.
type Bus struct {
	mu           sync.Mutex
	device       string
	baud         int
	port         *serial.Port
	framehandler pkcommand.FrameListener
	wg           sync.WaitGroup
	isRunning    bool
}

func NewSerialBus(channel string) (pkcommand.Transport, error) {
	device, baudStr, found := strings.Cut(channel, "@")
	baud := defaultBaud
	if found {
		parsed, err := strconv.Atoi(baudStr)
		if err != nil {
			return nil, fmt.Errorf("invalid baud rate %q: %w", baudStr, err)
		}
		baud = parsed
	}
	return &Bus{device: device, baud: baud}, nil
}

func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isRunning {
		return errors.New("already connected")
	}
	port, err := serial.OpenPort(&serial.Config{Name: b.device, Baud: b.baud})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", b.device, err)
	}
	b.port = port
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
	port := b.port
	b.port = nil
	b.mu.Unlock()
	var err error
	if port != nil {
		err = port.Close()
	}
	b.wg.Wait()
	return err
}

func (b *Bus) Send(frame []byte) error {
	b.mu.Lock()
	port := b.port
	b.mu.Unlock()
	if port == nil {
		return errors.New("no active connection, abort send")
	}
	return transport.WriteFrame(port, frame)
}

func (b *Bus) Subscribe(framehandler pkcommand.FrameListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
}

func (b *Bus) handleReception() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		port := b.port
		b.mu.Unlock()
		if port == nil {
			return
		}
		frame, err := transport.ReadFrame(port)
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
