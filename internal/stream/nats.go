package stream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

const (
	// StreamName is the JetStream stream retaining change events.
	StreamName = "CHANGES"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
}

// NATSTransport is the production Transport: durable change-event subjects
// ride JetStream, presence subjects ride core NATS.
type NATSTransport struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *logger.Logger

	mu          sync.Mutex
	nextCB      int
	onReconnect map[int]func()
}

// ConnectNATS establishes a connection and ensures the change-event stream
// exists.
func ConnectNATS(ctx context.Context, cfg NATSConfig, log *logger.Logger) (*NATSTransport, error) {
	t := &NATSTransport{logger: log, onReconnect: make(map[int]func())}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
			t.fireReconnect()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	if cfg.CAFile != "" && cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsConfig, err := createTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t.conn = nc
	t.js = js

	if err := t.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	return t, nil
}

func (t *NATSTransport) ensureStream(ctx context.Context) error {
	_, err := t.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = t.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", ChangeSubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Row change events for all synchronized relations",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish sends data on a subject. Change-event subjects are published
// through JetStream for retention; everything else is fire-and-forget.
func (t *NATSTransport) Publish(ctx context.Context, subject string, data []byte) error {
	if isDurableSubject(subject) {
		if _, err := t.js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", subject, err)
		}
		return nil
	}
	return t.conn.Publish(subject, data)
}

// Subscribe registers fn for live deliveries. NATS preserves per-subject
// publish order for a single subscriber.
func (t *NATSTransport) Subscribe(subject string, fn func(data []byte)) (Subscription, error) {
	sub, err := t.conn.Subscribe(subject, func(msg *nats.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return natsSubscription{sub: sub}, nil
}

// Replay fetches retained payloads for a durable subject through an
// ephemeral consumer, oldest first.
func (t *NATSTransport) Replay(ctx context.Context, subject string, limit int) ([][]byte, error) {
	if !isDurableSubject(subject) {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := t.js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	var out [][]byte
	for msg := range batch.Messages() {
		out = append(out, msg.Data())
	}
	if batch.Error() != nil && !strings.Contains(batch.Error().Error(), "timeout") {
		return nil, fmt.Errorf("batch error: %w", batch.Error())
	}
	return out, nil
}

// OnReconnect registers fn to run after the connection is re-established.
// The returned func removes the registration; short-lived callers (one per
// client connection) must call it on teardown so the callback set does not
// grow for the life of the process.
func (t *NATSTransport) OnReconnect(fn func()) func() {
	t.mu.Lock()
	id := t.nextCB
	t.nextCB++
	t.onReconnect[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.onReconnect, id)
		t.mu.Unlock()
	}
}

func (t *NATSTransport) fireReconnect() {
	t.mu.Lock()
	fns := make([]func(), 0, len(t.onReconnect))
	for _, fn := range t.onReconnect {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// IsConnected reports whether the NATS connection is live.
func (t *NATSTransport) IsConnected() bool {
	return t.conn != nil && t.conn.IsConnected()
}

// Close closes the NATS connection.
func (t *NATSTransport) Close() {
	if t.conn != nil {
		t.conn.Close()
	}
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
