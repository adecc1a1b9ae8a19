package idea

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSKVSource reads idea bodies from a NATS JetStream KeyValue bucket.
type NATSKVSource struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	bucket string
}

// NewNATSKVSource connects to NATS and binds the idea bucket, creating it
// when absent so seeding and reading can start in either order.
func NewNATSKVSource(url, bucket string) (*NATSKVSource, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "PrismQ idea bodies keyed by idea_ref",
			History:     1,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("bind idea KV bucket: %w", err)
		}
	}

	slog.Info("NATS idea source initialized", "url", url, "kv_bucket", bucket)
	return &NATSKVSource{conn: conn, kv: kv, bucket: bucket}, nil
}

// GetIdea implements Source.
func (s *NATSKVSource) GetIdea(ctx context.Context, ideaRef string) (string, error) {
	entry, err := s.kv.Get(ctx, ideaRef)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", NotFound(ideaRef)
		}
		return "", fmt.Errorf("get idea %q: %w", ideaRef, err)
	}
	return string(entry.Value()), nil
}

// PutIdea stores an idea body; used by the seed command, never by the core.
func (s *NATSKVSource) PutIdea(ctx context.Context, ideaRef, body string) error {
	if _, err := s.kv.Put(ctx, ideaRef, []byte(body)); err != nil {
		return fmt.Errorf("put idea %q: %w", ideaRef, err)
	}
	return nil
}

// Close closes the NATS connection.
func (s *NATSKVSource) Close() {
	s.conn.Close()
}
