package kafka

import (
	"errors"
	"fmt"
)

var (
	ErrProducerClosed = errors.New("producer closed")
	ErrNoRegistry     = errors.New("schema set but no schema registry configured")
)

// ProvisionError reports that a topic's existence could not be established:
// the describe or create request against the broker failed.
type ProvisionError struct {
	Topic string
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision topic %s: %v", e.Topic, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// PublishError reports a single failed send. It never affects other sends.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
