// Package storage keeps the latest report for each drawing in a NATS KV
// bucket so that a run can be compared with the one before it.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/codecomply/export"
)

// BucketReports is the default bucket name.
const BucketReports = "CODECOMPLY_REPORTS"

// bucket is the part of a KV bucket the store needs.
type bucket interface {
	get(ctx context.Context, key string) ([]byte, error)
	put(ctx context.Context, key string, value []byte) error
	keys(ctx context.Context) ([]string, error)
}

// Store provides report storage operations backed by NATS KV.
type Store struct {
	reports bucket
	nc      *nats.Conn
	logger  *slog.Logger
}

// Options configures Connect.
type Options struct {
	URL     string
	Bucket  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Connect dials NATS and opens the report bucket, creating it if needed.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name("codecomply-history"),
		nats.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	name := opts.Bucket
	if name == "" {
		name = BucketReports
	}
	kv, err := getOrCreateBucket(ctx, js, name)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}

	s := newStore(jsBucket{kv}, opts.Logger)
	s.nc = nc
	return s, nil
}

func newStore(b bucket, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{reports: b, logger: logger}
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}

	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Latest compliance report per drawing",
		History:     5, // Keep last 5 revisions
	})
}

// Key turns a drawing name into a valid KV key.
func Key(drawing string) string {
	drawing = strings.TrimSpace(drawing)
	if drawing == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '=':
			return r
		}
		return '_'
	}, drawing)
}

// Save stores doc as the latest report for its drawing.
func (s *Store) Save(ctx context.Context, doc export.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	key := Key(doc.Drawing)
	if err := s.reports.put(ctx, key, data); err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	s.logger.Debug("Stored report", slog.String("key", key), slog.String("run_id", doc.RunID))
	return nil
}

// Latest returns the most recently saved report for drawing.
func (s *Store) Latest(ctx context.Context, drawing string) (*export.Document, error) {
	data, err := s.reports.get(ctx, Key(drawing))
	if err != nil {
		return nil, err
	}
	var doc export.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &doc, nil
}

// Drawings lists the keys of every stored drawing, sorted.
func (s *Store) Drawings(ctx context.Context) ([]string, error) {
	keys, err := s.reports.keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list report keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close drains the store's connection, if it owns one.
func (s *Store) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}

// jsBucket adapts a JetStream key-value bucket.
type jsBucket struct {
	kv jetstream.KeyValue
}

func (b jsBucket) get(ctx context.Context, key string) ([]byte, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return entry.Value(), nil
}

func (b jsBucket) put(ctx context.Context, key string, value []byte) error {
	_, err := b.kv.Put(ctx, key, value)
	return err
}

func (b jsBucket) keys(ctx context.Context) ([]string, error) {
	lister, err := b.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}
