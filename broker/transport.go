package broker

import "context"

// MessageHandler receives every inbound message. It runs on the transport's
// delivery goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// Session is one established transport connection
type Session interface {
	// Subscribe registers h for each topic and returns once the broker
	// acknowledged them or ctx is done
	Subscribe(ctx context.Context, topics []string, h MessageHandler) error
	// Publish sends payload with at-least-once delivery
	Publish(ctx context.Context, topic string, payload []byte) error
	// Alive reports whether the transport still considers the session open
	Alive() bool
	// Lost is closed when the transport drops the session
	Lost() <-chan struct{}
	// Err returns the cause once Lost is closed
	Err() error
	// Close releases transport resources. Safe to call more than once.
	Close() error
}

// Dialer opens sessions. Dial must return once ctx is done.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
	// Endpoint is used in logs
	Endpoint() string
}
