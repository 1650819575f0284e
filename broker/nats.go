package broker

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/pkg/security"
	"github.com/c360/zonewatch/pkg/tlsutil"
)

// NATSOptions configures a NATS transport
type NATSOptions struct {
	URL          string // e.g. tls://broker:4222
	ClientName   string
	PingInterval time.Duration
	TLS          security.ClientTLSConfig // Plaintext when no credential material is set
}

// NATSDialer opens NATS sessions. Topics map to subjects by replacing "/"
// with "." and the "+" wildcard with "*". Client reconnects are disabled.
type NATSDialer struct {
	opts NATSOptions
}

// NewNATSDialer creates a NATS dialer
func NewNATSDialer(opts NATSOptions) *NATSDialer {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 60 * time.Second
	}
	return &NATSDialer{opts: opts}
}

// Endpoint returns the server URL
func (d *NATSDialer) Endpoint() string {
	return d.opts.URL
}

// Dial connects and returns once the server has accepted the client or ctx is done
func (d *NATSDialer) Dial(ctx context.Context) (Session, error) {
	s := &natsSession{lostSignal: newLostSignal()}

	opts := []nats.Option{
		nats.Name(d.opts.ClientName),
		nats.NoReconnect(),
		nats.PingInterval(d.opts.PingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = errors.ErrConnectionLost
			}
			s.fire(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.fire(nil)
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}
	if d.opts.TLS.Enabled() {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(d.opts.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(d.opts.URL, opts...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		s.conn = r.conn
		return s, nil
	case <-ctx.Done():
		// Release a connection that completes after the caller gave up
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// TopicToSubject maps a slash-separated topic to a NATS subject
func TopicToSubject(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		}
	}
	return strings.Join(parts, ".")
}

// SubjectToTopic maps a NATS subject back to a slash-separated topic
func SubjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

type natsSession struct {
	*lostSignal
	conn *nats.Conn
	subs []*nats.Subscription
}

func (s *natsSession) Subscribe(ctx context.Context, topics []string, h MessageHandler) error {
	for _, topic := range topics {
		sub, err := s.conn.Subscribe(TopicToSubject(topic), func(msg *nats.Msg) {
			h(SubjectToTopic(msg.Subject), msg.Data)
		})
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}
	// Make sure the server registered the interest before reporting success
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	return s.conn.FlushWithContext(ctx)
}

// Publish waits for the server round trip so a lost connection surfaces as an error
func (s *natsSession) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := s.conn.Publish(TopicToSubject(topic), payload); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	return s.conn.FlushWithContext(ctx)
}

func (s *natsSession) Alive() bool {
	return s.conn.IsConnected()
}

func (s *natsSession) Close() error {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	s.conn.Close()
	return nil
}
