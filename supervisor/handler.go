package supervisor

import "fmt"

// HandlerDescriptor is a queue binding request: which queue to consume, how
// many deliveries may be in flight, and the callback to run per message.
// A descriptor is owned by exactly one Connection and is re-attached
// unchanged after every reconnect of that connection.
type HandlerDescriptor struct {
	Queue         string
	PrefetchCount int
	OnMessage     MessageHandler
}

func (d HandlerDescriptor) validate() error {
	if d.Queue == "" {
		return fmt.Errorf("%w: queue name is empty", ErrInvalidHandler)
	}
	if d.PrefetchCount <= 0 {
		return fmt.Errorf("%w: prefetch count must be positive, got %d", ErrInvalidHandler, d.PrefetchCount)
	}
	if d.OnMessage == nil {
		return fmt.Errorf("%w: message callback is nil", ErrInvalidHandler)
	}
	return nil
}
