package protoframe

import (
	"fmt"
	"strings"
)

// Action is the delivery mode encoded in a record tag.
type Action string

const (
	ActionTell Action = "tell"
	ActionAsk  Action = "ask"
)

const (
	tagSeparator    = "#"
	systemPrefix    = "system|"
	pingMessageType = "ping"
)

// Protocol identifies the message catalog two connectors share. Connectors
// interoperate only when their namespaces are equal.
type Protocol struct {
	Namespace string
}

// NewProtocol returns a validated protocol descriptor.
func NewProtocol(namespace string) (Protocol, error) {
	p := Protocol{Namespace: namespace}
	if err := p.Validate(); err != nil {
		return Protocol{}, err
	}
	return p, nil
}

func (p Protocol) Validate() error {
	if strings.TrimSpace(p.Namespace) == "" {
		return fmt.Errorf("%w: empty namespace", ErrInvalidNamespace)
	}
	if strings.Contains(p.Namespace, tagSeparator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidNamespace, p.Namespace, tagSeparator)
	}
	return nil
}

// System returns the private namespace used for liveness pings.
func (p Protocol) System() Protocol {
	return Protocol{Namespace: systemPrefix + p.Namespace}
}

func (p Protocol) String() string { return p.Namespace }
