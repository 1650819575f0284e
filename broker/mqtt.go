package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/pkg/security"
	"github.com/c360/zonewatch/pkg/tlsutil"
)

// atLeastOnce is MQTT QoS 1
const atLeastOnce byte = 1

// MQTTOptions configures an MQTT over TLS transport
type MQTTOptions struct {
	Host      string
	Port      int
	ClientID  string
	KeepAlive time.Duration
	TLS       security.ClientTLSConfig
}

// MQTTDialer opens MQTT sessions authenticated with a client certificate.
// Paho's own reconnect logic is disabled; the Manager owns recovery.
type MQTTDialer struct {
	opts MQTTOptions
}

// NewMQTTDialer creates a dialer for ssl://host:port
func NewMQTTDialer(opts MQTTOptions) *MQTTDialer {
	if opts.Port == 0 {
		opts.Port = 8883
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 60 * time.Second
	}
	return &MQTTDialer{opts: opts}
}

// Endpoint returns the broker URL
func (d *MQTTDialer) Endpoint() string {
	return "ssl://" + net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
}

// Dial loads the TLS material, connects and waits for the CONNACK or ctx
func (d *MQTTDialer) Dial(ctx context.Context) (Session, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(d.opts.TLS)
	if err != nil {
		return nil, err
	}
	if tlsConfig.ServerName == "" && !tlsConfig.InsecureSkipVerify {
		tlsConfig.ServerName = d.opts.Host
	}

	s := &mqttSession{lostSignal: newLostSignal()}
	clientOpts := d.clientOptions(ctx, tlsConfig, s)
	s.client = mqtt.NewClient(clientOpts)

	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, err
		}
	case <-ctx.Done():
		s.client.Disconnect(0)
		return nil, ctx.Err()
	}
	return s, nil
}

func (d *MQTTDialer) clientOptions(ctx context.Context, tlsConfig *tls.Config, s *mqttSession) *mqtt.ClientOptions {
	connectTimeout := 15 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		connectTimeout = time.Until(deadline)
	}

	return mqtt.NewClientOptions().
		AddBroker(d.Endpoint()).
		SetClientID(d.opts.ClientID).
		SetTLSConfig(tlsConfig).
		SetKeepAlive(d.opts.KeepAlive).
		SetConnectTimeout(connectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.fire(err)
		})
}

type mqttSession struct {
	*lostSignal
	client mqtt.Client
}

// subscribeFailure is the SUBACK return code for a rejected filter
const subscribeFailure byte = 0x80

// Subscribe sends every filter in one SUBSCRIBE packet and waits for the
// SUBACK or ctx
func (s *mqttSession) Subscribe(ctx context.Context, topics []string, h MessageHandler) error {
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = atLeastOnce
	}
	token := s.client.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("subscribe %v: %w", topics, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %v: %w", topics, err)
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		for topic, code := range st.Result() {
			if code == subscribeFailure {
				return errors.Join(errors.ErrConnectionRefused, fmt.Errorf("subscribe %s rejected by broker", topic))
			}
		}
	}
	return nil
}

func (s *mqttSession) Publish(ctx context.Context, topic string, payload []byte) error {
	token := s.client.Publish(topic, atLeastOnce, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *mqttSession) Alive() bool {
	return s.client.IsConnectionOpen()
}

func (s *mqttSession) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.fire(nil)
	return nil
}
