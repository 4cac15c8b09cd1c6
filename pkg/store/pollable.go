package store

import "sync"

type resolved struct {
	data []byte
	err  error
}

func (p *resolved) Poll() Result {
	if p.err != nil {
		return Result{State: Ready, Err: p.err}
	}
	return Result{State: Ready, Data: p.data}
}

// Resolved returns a [Pollable] that is Ready immediately with data.
func Resolved(data []byte) Pollable {
	return &resolved{data: data}
}

// Failed returns a [Pollable] that is Ready immediately with an error.
func Failed(err error) Pollable {
	return &resolved{err: err}
}

// slotPollable publishes a goroutine result through a mutex guarded slot.
type slotPollable struct {
	mu   sync.Mutex
	done bool
	data []byte
	err  error
}

func (p *slotPollable) Poll() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done {
		return Result{State: Pending}
	}
	if p.err != nil {
		return Result{State: Ready, Err: p.err}
	}
	return Result{State: Ready, Data: p.data}
}

// Go runs fn on its own goroutine and returns a [Pollable] that becomes
// Ready once fn returns. Poll never blocks ; it only observes the
// completion slot.
func Go(fn func() ([]byte, error)) Pollable {
	p := &slotPollable{}
	go func() {
		data, err := fn()
		p.mu.Lock()
		p.data = data
		p.err = err
		p.done = true
		p.mu.Unlock()
	}()
	return p
}
