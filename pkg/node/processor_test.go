package node

import (
	"context"
	"testing"
	"time"

	"github.com/lingrottin/go-pkcommand/pkg/command"
	"github.com/lingrottin/go-pkcommand/pkg/engine"
	"github.com/lingrottin/go-pkcommand/pkg/store"
	"github.com/lingrottin/go-pkcommand/pkg/transport"
	_ "github.com/lingrottin/go-pkcommand/pkg/transport/virtual"
	"github.com/stretchr/testify/assert"
)

func createProcessorPair(t *testing.T, channel string) (host *Processor, device *Processor, teardown func()) {
	hostBus, err := transport.NewTransport("virtual", channel)
	assert.Nil(t, err)
	deviceBus, err := transport.NewTransport("virtual", channel)
	assert.Nil(t, err)

	deviceVars := store.NewMapVariables().Add("VARIA", []byte("variable value"))
	deviceMethods := store.NewMapMethods().Add("ECHOO", func(param []byte) (store.Pollable, error) {
		return store.Resolved(param), nil
	})

	host = NewProcessor(
		engine.New(engine.DefaultConfig(64), store.NewMapVariables(), store.NewMapMethods()),
		hostBus, nil, time.Millisecond)
	device = NewProcessor(
		engine.New(engine.DefaultConfig(64), deviceVars, deviceMethods),
		deviceBus, nil, time.Millisecond)

	assert.Nil(t, hostBus.Connect())
	assert.Nil(t, deviceBus.Connect())

	ctx := context.Background()
	host.Start(ctx)
	device.Start(ctx)
	return host, device, func() {
		host.Stop()
		device.Stop()
		hostBus.Disconnect()
		deviceBus.Disconnect()
	}
}

func TestProcessorRequv(t *testing.T) {
	host, _, teardown := createProcessorPair(t, "proc-requv")
	defer teardown()

	done, err := host.Perform(command.RequireVariable, "VARIA", nil)
	assert.Nil(t, err)
	select {
	case result := <-done:
		assert.Equal(t, []byte("variable value"), result.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("transaction did not complete")
	}
}

func TestProcessorInvoke(t *testing.T) {
	host, _, teardown := createProcessorPair(t, "proc-invoke")
	defer teardown()

	done, err := host.Perform(command.Invoke, "ECHOO", []byte("ping"))
	assert.Nil(t, err)
	select {
	case result := <-done:
		assert.Equal(t, []byte("ping"), result.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("transaction did not complete")
	}
}

func TestProcessorSequentialTransactions(t *testing.T) {
	host, device, teardown := createProcessorPair(t, "proc-seq")
	defer teardown()

	done, err := host.Perform(command.SendVariable, "VARIA", []byte("updated"))
	assert.Nil(t, err)
	result := <-done
	assert.Nil(t, result.Data)
	assert.Empty(t, device.Engine().LastReturnData())

	done, err = host.Perform(command.RequireVariable, "VARIA", nil)
	assert.Nil(t, err)
	select {
	case result := <-done:
		assert.Equal(t, []byte("updated"), result.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("second transaction did not complete")
	}
}

func TestProcessorRejectsConcurrentPerform(t *testing.T) {
	host, _, teardown := createProcessorPair(t, "proc-busy")
	defer teardown()

	done, err := host.Perform(command.RequireVariable, "VARIA", nil)
	assert.Nil(t, err)
	_, err = host.Perform(command.RequireVariable, "VARIA", nil)
	assert.Equal(t, engine.ErrTransactionInProgress, err)
	<-done
}
