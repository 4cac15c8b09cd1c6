// Package transport holds the registry of PK frame transports.
// Concrete backends live in subpackages and register themselves in an
// init() function.
package transport

import (
	"fmt"

	pkcommand "github.com/lingrottin/go-pkcommand"
)

type NewTransportFunc func(channel string) (pkcommand.Transport, error)

var AvailableTransports = make(map[string]NewTransportFunc)
var ImplementedTransports = []string{
	"serial",
	"tcp",
	"virtual",
}

// Register a new transport type
// This should be called inside an init() function of the backend
func Register(transportType string, newTransport NewTransportFunc) {
	AvailableTransports[transportType] = newTransport
}

// NewTransport creates a transport of the given registered type.
func NewTransport(transportType string, channel string) (pkcommand.Transport, error) {
	create, ok := AvailableTransports[transportType]
	if !ok {
		for _, implemented := range ImplementedTransports {
			if implemented == transportType {
				return nil, fmt.Errorf("not enabled : %v, check imported backends", transportType)
			}
		}
		return nil, fmt.Errorf("not supported : %v", transportType)
	}
	return create(channel)
}
