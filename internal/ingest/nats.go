package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"stockwatch/internal/config"
	"stockwatch/internal/metrics"

	"github.com/nats-io/nats.go"
)

const sourceNATS = "nats"

// NATSSubscriber consumes product updates via a core NATS queue subscription.
// Params: NATS connection, queue subscription, and product sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber connects and subscribes to the product update subject.
// Params: ingest NATS config, sink, and optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.IngestNATSConfig, sink ProductSink, logger *slog.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("stockwatch-ingest"))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}

	subscriber := &NATSSubscriber{nc: nc, logger: logger}
	sub, err := nc.QueueSubscribe(cfg.Subject, cfg.QueueGroup, subscriber.handle(sink))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.QueueGroup, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flush nats ingest subscription: %w", err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

func (s *NATSSubscriber) handle(sink ProductSink) nats.MsgHandler {
	return func(message *nats.Msg) {
		products, err := decodeProducts(message.Data)
		if err != nil {
			metrics.ProductUpdatesTotal.WithLabelValues(sourceNATS, "rejected").Inc()
			s.logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", err.Error())
			return
		}
		apply(sink, products)
		metrics.ProductUpdatesTotal.WithLabelValues(sourceNATS, "applied").Add(float64(len(products)))
		if message.Reply != "" {
			if err := message.Respond([]byte(fmt.Sprintf(`{"accepted":%d}`, len(products)))); err != nil {
				s.logger.Warn("nats ingest reply failed", "subject", message.Subject, "error", err.Error())
			}
		}
	}
}

// Close drains subscription and closes connection.
// Params: none.
// Returns: drain error.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
