package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/libraria/libraria/errors"
	"github.com/libraria/libraria/store"
)

// SubjectBookAdded is the NATS subject carrying bookAdded events.
const SubjectBookAdded = "libraria.events.book.added"

// NATS is a Bus backed by a core NATS connection. Events are JSON-encoded
// store.Book documents.
type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATS dials the NATS server and returns a connected bus.
func NewNATS(url string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATS", "NewNATS",
			"NATS URL is required")
	}

	conn, err := nats.Connect(url,
		nats.Name("libraria"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.WrapUpstream(err, "NATS", "NewNATS", "connect")
	}

	return &NATS{conn: conn, logger: logger}, nil
}

// PublishBookAdded publishes the book on the bookAdded subject.
func (n *NATS) PublishBookAdded(_ context.Context, book store.Book) error {
	data, err := json.Marshal(book)
	if err != nil {
		return errors.WrapInvalid(err, "NATS", "PublishBookAdded", "event encode")
	}
	if err := n.conn.Publish(SubjectBookAdded, data); err != nil {
		return errors.WrapUpstream(err, "NATS", "PublishBookAdded", "publish")
	}
	return nil
}

// SubscribeBookAdded subscribes to the bookAdded subject until ctx is
// cancelled. Undecodable payloads are logged and skipped.
func (n *NATS) SubscribeBookAdded(ctx context.Context) (<-chan store.Book, error) {
	ch := make(chan store.Book, subscriberBuffer)

	sub, err := n.conn.Subscribe(SubjectBookAdded, func(msg *nats.Msg) {
		var book store.Book
		if err := json.Unmarshal(msg.Data, &book); err != nil {
			n.logger.Warn("discarding undecodable event",
				"subject", msg.Subject, "error", err)
			return
		}
		select {
		case ch <- book:
		default:
			n.logger.Warn("dropping event for slow subscriber", "subject", msg.Subject)
		}
	})
	if err != nil {
		return nil, errors.WrapUpstream(err, "NATS", "SubscribeBookAdded", "subscribe")
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn("unsubscribe failed", "subject", SubjectBookAdded, "error", err)
		}
		close(ch)
	}()
	return ch, nil
}

// Close drains the connection so in-flight events flush before shutdown.
func (n *NATS) Close() error {
	if n.conn == nil || n.conn.IsClosed() {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		return errors.WrapUpstream(err, "NATS", "Close", "drain")
	}
	return nil
}

// compile-time interface check
var _ Bus = (*NATS)(nil)
