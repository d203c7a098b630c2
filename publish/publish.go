// Package publish sends compliance reports to NATS so that downstream
// services can react to verdicts.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/codecomply/export"
)

// Publisher delivers a report document.
type Publisher interface {
	Publish(ctx context.Context, doc export.Document) error
	Close() error
}

// NopPublisher discards documents. It is used when no NATS URL is configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, export.Document) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// conn is the subset of *nats.Conn used here.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// stream is the subset of jetstream.JetStream used here.
type stream interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Options configures a NATSPublisher.
type Options struct {
	URL string
	// Subject is the prefix; the drawing name is appended.
	Subject string
	// JetStream publishes with acknowledgement instead of core NATS.
	JetStream bool
	Timeout   time.Duration
	Logger    *slog.Logger
}

// NATSPublisher publishes report JSON to <subject>.<drawing>.
type NATSPublisher struct {
	conn    conn
	js      stream
	subject string
	timeout time.Duration
	logger  *slog.Logger
}

// Connect dials NATS and returns a publisher.
func Connect(opts Options) (*NATSPublisher, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name("codecomply"),
		nats.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	var js stream
	if opts.JetStream {
		j, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		js = j
	}
	return newNATSPublisher(nc, js, opts), nil
}

func newNATSPublisher(c conn, js stream, opts Options) *NATSPublisher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSPublisher{
		conn:    c,
		js:      js,
		subject: strings.TrimSuffix(opts.Subject, "."),
		timeout: timeout,
		logger:  logger,
	}
}

// Subject returns the subject a drawing's report is published on.
func (p *NATSPublisher) Subject(drawing string) string {
	return p.subject + "." + SubjectToken(drawing)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, doc export.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	subject := p.Subject(doc.Drawing)
	if p.js != nil {
		if _, err := p.js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	} else {
		if err := p.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		if err := p.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}

	p.logger.Debug("Published report",
		slog.String("subject", subject),
		slog.String("run_id", doc.RunID),
		slog.Int("bytes", len(data)))
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// SubjectToken turns a drawing name into a single NATS subject token.
// Dots, wildcards and whitespace become dashes.
func SubjectToken(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '-'
		}
		return r
	}, name)
}
