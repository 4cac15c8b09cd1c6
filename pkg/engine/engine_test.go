package engine

import (
	"testing"
	"time"

	"github.com/lingrottin/go-pkcommand/pkg/clock"
	"github.com/lingrottin/go-pkcommand/pkg/command"
	"github.com/lingrottin/go-pkcommand/pkg/store"
	"github.com/stretchr/testify/assert"
)

func newTestEngine(clk *clock.Mock) *Engine {
	vars := store.NewMapVariables().Add("VARIA", []byte("variable value"))
	methods := store.NewMapMethods()
	return New(DefaultConfig(64), vars, methods, WithClock(clk))
}

func TestPerformValidation(t *testing.T) {
	e := newTestEngine(clock.NewMock())

	assert.Equal(t, ErrNotRootOperation, e.Perform(command.Query, "", nil))
	assert.Equal(t, ErrInvalidObject, e.Perform(command.RequireVariable, "", nil))
	assert.Equal(t, ErrInvalidObject, e.Perform(command.SendVariable, "TOOLONG", nil))

	// PKVER is the only root operation without an object
	assert.Nil(t, e.Perform(command.GetVersion, "", nil))
	assert.Equal(t, ErrTransactionInProgress, e.Perform(command.RequireVariable, "VARIA", nil))
}

func TestHostEmitsStart(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEngine(clk)
	assert.Nil(t, e.Perform(command.RequireVariable, "VARIA", nil))

	frame := e.Poll()
	assert.NotNil(t, frame)
	assert.Equal(t, []byte("!!START"), frame.Bytes())
	assert.Equal(t, StatusAwaitingAck, e.status)

	// nothing more to do until the ack arrives or the timeout fires
	assert.Nil(t, e.Poll())
}

func TestRetransmitDeterminism(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEngine(clk)
	assert.Nil(t, e.Perform(command.RequireVariable, "VARIA", nil))

	first := e.Poll().Bytes()
	clk.Advance(DefaultAckTimeout)
	for i := 0; i < 3; i++ {
		retransmit := e.Poll()
		assert.NotNil(t, retransmit)
		assert.Equal(t, first, retransmit.Bytes())
	}

	// a matching ack stops the retransmission and advances the chain
	assert.Nil(t, e.IncomingCommand([]byte("!!ACKNO START")))
	next := e.Poll()
	assert.NotNil(t, next)
	assert.Equal(t, command.RequireVariable, next.Operation)
	assert.Equal(t, "VARIA", next.Object)
	assert.Equal(t, StageRootOperationAssigned, e.stage)
}

func TestInterCommandTimeout(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEngine(clk)
	assert.Nil(t, e.Perform(command.RequireVariable, "VARIA", nil))
	_ = e.Poll() // START

	clk.Advance(DefaultInterCommandTimeout)
	frame := e.Poll()
	assert.NotNil(t, frame)
	assert.Equal(t, command.Error, frame.Operation)
	assert.Equal(t, []byte("Operation timed out"), frame.Data)
	assert.Equal(t, StatusAwaitingErrAck, e.status)
	assert.Equal(t, StageIdle, e.stage)

	// the error ack clears the engine back to a usable state
	assert.Nil(t, e.IncomingCommand([]byte("  ACKNO ERROR")))
	assert.Nil(t, e.Poll())
	assert.Equal(t, StatusOther, e.status)
	assert.Nil(t, e.Perform(command.RequireVariable, "VARIA", nil))
}

func TestErrAckRetransmission(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEngine(clk)
	assert.Nil(t, e.Perform(command.RequireVariable, "VARIA", nil))
	_ = e.Poll()

	clk.Advance(DefaultInterCommandTimeout)
	errorFrame := e.Poll().Bytes()

	clk.Advance(DefaultAckTimeout)
	retransmit := e.Poll()
	assert.NotNil(t, retransmit)
	assert.Equal(t, errorFrame, retransmit.Bytes())
}

func TestIdleRejectsNonStart(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEngine(clk)

	assert.Nil(t, e.IncomingCommand([]byte("!!QUERY")))
	frame := e.Poll()
	assert.NotNil(t, frame)
	assert.Equal(t, command.Error, frame.Operation)
	assert.Equal(t, []byte("Received command but not in a chain"), frame.Data)

	assert.Nil(t, e.IncomingCommand([]byte("  ACKNO ERROR")))
	assert.Nil(t, e.Poll())
	assert.Equal(t, StageIdle, e.stage)
	assert.Equal(t, StatusOther, e.status)
}

func TestDeviceAcknowledgesStart(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEngine(clk)

	assert.Nil(t, e.IncomingCommand([]byte("!!START")))
	frame := e.Poll()
	assert.NotNil(t, frame)
	assert.Equal(t, []byte("!!ACKNO START"), frame.Bytes())
	assert.Equal(t, RoleDevice, e.role)
	assert.Equal(t, StageStarted, e.stage)
}

func TestDeviceRejectsRootWithoutObject(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEngine(clk)

	assert.Nil(t, e.IncomingCommand([]byte("!!START")))
	_ = e.Poll()
	assert.Nil(t, e.IncomingCommand([]byte(`!"SENDV`)))
	frame := e.Poll()
	assert.NotNil(t, frame)
	assert.Equal(t, command.Error, frame.Operation)
	assert.Equal(t, []byte("Missing object for SENDV"), frame.Data)
}

func TestDeviceResendsCachedReplyOnDuplicate(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEngine(clk)

	assert.Nil(t, e.IncomingCommand([]byte("!!START")))
	ack := e.Poll().Bytes()

	// the host missed the ack and retransmitted the same START
	assert.Nil(t, e.IncomingCommand([]byte("!!START")))
	again := e.Poll()
	assert.NotNil(t, again)
	assert.Equal(t, ack, again.Bytes())
	// duplicate handling does not advance the chain
	assert.Equal(t, StageStarted, e.stage)
}

func TestReceivingErrorResetsEverything(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEngine(clk)
	assert.Nil(t, e.Perform(command.RequireVariable, "VARIA", nil))
	_ = e.Poll()

	assert.Nil(t, e.IncomingCommand([]byte("  ERROR ERROR peer gave up")))
	frame := e.Poll()
	assert.NotNil(t, frame)
	assert.Equal(t, []byte("  ACKNO ERROR"), frame.Bytes())
	assert.Equal(t, StageIdle, e.stage)
	assert.Equal(t, RoleIdle, e.role)
	assert.Nil(t, e.Perform(command.RequireVariable, "VARIA", nil))
}

func TestAwaitingErrAckOnlyAcceptsErrorAck(t *testing.T) {
	clk := clock.NewMock()
	e := newTestEngine(clk)
	assert.Nil(t, e.Perform(command.RequireVariable, "VARIA", nil))
	_ = e.Poll()
	clk.Advance(DefaultInterCommandTimeout)
	_ = e.Poll() // ERROR emitted, now awaiting its ack

	assert.Nil(t, e.IncomingCommand([]byte("!!ACKNO START")))
	frame := e.Poll()
	assert.NotNil(t, frame)
	assert.Equal(t, command.Error, frame.Operation)
	assert.Equal(t, []byte("Should be ACKNO ERROR"), frame.Data)
}

func TestWaitForCompleteAndImmediate(t *testing.T) {
	e := newTestEngine(clock.NewMock())
	called := false
	e.WaitForCompleteAnd(func(data []byte) {
		called = true
		assert.Nil(t, data)
	})
	assert.True(t, called)
}

func TestPacketLimitTooSmallPanics(t *testing.T) {
	assert.Panics(t, func() {
		New(DefaultConfig(10), store.NewMapVariables(), store.NewMapMethods())
	})
}

func TestMockClockTimings(t *testing.T) {
	clk := clock.NewMock()
	start := clk.Now()
	clk.Advance(time.Second)
	assert.Equal(t, time.Second, clk.Since(start))
}
