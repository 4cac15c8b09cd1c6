// Package node couples a protocol engine to a transport and drives it.
package node

import (
	"context"
	"log/slog"
	"sync"
	"time"

	pkcommand "github.com/lingrottin/go-pkcommand"
	"github.com/lingrottin/go-pkcommand/pkg/command"
	"github.com/lingrottin/go-pkcommand/pkg/engine"
)

const DefaultPollPeriod = 5 * time.Millisecond

// Result of a completed host transaction. Data is nil when the
// transaction produced no response or was dropped by the protocol.
type Result struct {
	Data []byte
}

// Processor is responsible for the cyclic processing of one engine :
// it feeds received frames in, polls the state machine and hands
// outgoing frames to the transport. The engine itself is lock free ;
// the processor serializes all access to it.
type Processor struct {
	logger *slog.Logger
	mu     sync.Mutex
	engine *engine.Engine
	tm     *pkcommand.TransportManager
	cancel context.CancelFunc
	wg     *sync.WaitGroup
	period time.Duration
}

func NewProcessor(e *engine.Engine, transport pkcommand.Transport, logger *slog.Logger, pollPeriod time.Duration) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if pollPeriod <= 0 {
		pollPeriod = DefaultPollPeriod
	}
	p := &Processor{
		logger: logger.With("service", "[PROC]"),
		engine: e,
		tm:     pkcommand.NewTransportManager(transport, logger),
		wg:     &sync.WaitGroup{},
		period: pollPeriod,
	}
	p.tm.Subscribe(p)
	return p
}

// Implements the [pkcommand.FrameListener] interface.
// Frames are fed to the engine and answered right away rather than on
// the next tick.
func (p *Processor) Handle(frame []byte) {
	p.mu.Lock()
	err := p.engine.IncomingCommand(frame)
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("dropping unparseable frame", "err", err, "len", len(frame))
		return
	}
	p.step()
}

// step runs one poll cycle and sends the resulting frame, if any.
// The lock is held across the send so concurrent steps cannot reorder
// outgoing frames.
func (p *Processor) step() {
	p.mu.Lock()
	defer p.mu.Unlock()
	frame := p.engine.Poll()
	if frame == nil {
		return
	}
	if err := p.tm.Send(frame.Bytes()); err != nil {
		p.logger.Warn("send failed", "err", err)
	}
}

// Start launches the cyclic poll loop.
func (p *Processor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.background(ctx)
}

// Stop cancels the poll loop and waits for it to exit.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Processor) background(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	p.logger.Info("starting processor poll loop", "period", p.period)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("exited processor poll loop")
			return
		case <-ticker.C:
			p.step()
		}
	}
}

// Perform starts a host transaction and returns a channel resolving
// once the chain reaches idle again.
func (p *Processor) Perform(op command.Operation, object string, data []byte) (<-chan Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.engine.Perform(op, object, data); err != nil {
		return nil, err
	}
	done := make(chan Result, 1)
	p.engine.WaitForCompleteAnd(func(data []byte) {
		done <- Result{Data: data}
	})
	return done, nil
}

// Engine exposes the underlying engine. Any direct call must not race
// with a running poll loop.
func (p *Processor) Engine() *engine.Engine {
	return p.engine
}
