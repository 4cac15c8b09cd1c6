// Package gateway maps high-level variable and method access onto PK
// Command transactions run by a host-side processor. Protocol specific
// front ends (HTTP, ...) build on [BaseGateway].
package gateway

import (
	"errors"
	"time"

	"github.com/lingrottin/go-pkcommand/pkg/command"
	"github.com/lingrottin/go-pkcommand/pkg/node"
	log "github.com/sirupsen/logrus"
)

const DefaultTransactionTimeout = 5 * time.Second

var ErrTransactionTimeout = errors.New("gateway: transaction timed out")

// BaseGateway implements the basic gateway features on top of a host
// processor. Each call runs one full PK transaction.
type BaseGateway struct {
	processor *node.Processor
	timeout   time.Duration
}

func NewBaseGateway(processor *node.Processor, timeout time.Duration) *BaseGateway {
	if timeout <= 0 {
		timeout = DefaultTransactionTimeout
	}
	return &BaseGateway{processor: processor, timeout: timeout}
}

func (gw *BaseGateway) transact(op command.Operation, object string, data []byte) ([]byte, error) {
	done, err := gw.processor.Perform(op, object, data)
	if err != nil {
		return nil, err
	}
	select {
	case result := <-done:
		return result.Data, nil
	case <-time.After(gw.timeout):
		log.Warnf("transaction %v %v did not complete within %v", op, object, gw.timeout)
		return nil, ErrTransactionTimeout
	}
}

// Read returns the remote value of a variable.
func (gw *BaseGateway) Read(object string) ([]byte, error) {
	return gw.transact(command.RequireVariable, object, nil)
}

// Write updates a remote variable. A set failure reported by the device
// is returned as an error.
func (gw *BaseGateway) Write(object string, data []byte) error {
	response, err := gw.transact(command.SendVariable, object, data)
	if err != nil {
		return err
	}
	if len(response) > 0 {
		return errors.New(string(response))
	}
	return nil
}

// Invoke calls a remote method and returns its result.
func (gw *BaseGateway) Invoke(object string, param []byte) ([]byte, error) {
	return gw.transact(command.Invoke, object, param)
}

// Version returns the protocol version reported by the device.
func (gw *BaseGateway) Version() (string, error) {
	data, err := gw.transact(command.GetVersion, "", nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
