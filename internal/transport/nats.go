package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stockwatch/internal/config"
	"stockwatch/internal/domain"
	"stockwatch/internal/metrics"

	"github.com/nats-io/nats.go"
)

const eventStreamMaxAge = 24 * time.Hour

// NATSPublisher publishes events to `<prefix>.<event kind>` subjects.
// Params: NATS connection, optional JetStream context, and subject prefix.
// Returns: transport sink backed by NATS.
type NATSPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher connects to NATS and ensures event stream when JetStream is enabled.
// Params: NATS transport config and logger.
// Returns: publisher or connection/stream setup error.
func NewNATSPublisher(cfg config.NATSTransportConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport", "sink", "nats")

	nc, err := nats.Connect(strings.Join(cfg.URL, ","),
		nats.Name("stockwatch"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect transport nats: %w", err)
	}

	publisher := &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."), logger: logger}
	if cfg.JetStream {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream init for transport: %w", err)
		}
		if err := ensureStream(js, cfg.Stream, publisher.prefix+".>", eventStreamMaxAge); err != nil {
			nc.Close()
			return nil, err
		}
		publisher.js = js
	}
	return publisher, nil
}

// Subject returns subject used for event kind.
func (p *NATSPublisher) Subject(kind domain.EventKind) string {
	return p.prefix + "." + string(kind)
}

// Publish encodes event as JSON and publishes it.
// Params: context and event.
// Returns: encode or publish error.
func (p *NATSPublisher) Publish(ctx context.Context, event domain.Event) error {
	status := "success"
	defer func() {
		metrics.EventsPublishedTotal.WithLabelValues("nats", string(event.Kind), status).Inc()
	}()

	body, err := json.Marshal(event)
	if err != nil {
		status = "failure"
		return fmt.Errorf("marshal transport event: %w", err)
	}
	msg := nats.NewMsg(p.Subject(event.Kind))
	msg.Data = body

	if p.js == nil {
		if err := p.nc.PublishMsg(msg); err != nil {
			status = "failure"
			return fmt.Errorf("publish transport event: %w", err)
		}
		return nil
	}

	if id := eventID(event); id != "" {
		msg.Header.Set(nats.MsgIdHdr, string(event.Kind)+":"+id)
	}
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		status = "failure"
		return fmt.Errorf("publish transport event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
// Params: none.
// Returns: drain error.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}

// ensureStream creates limits-retention stream when it does not exist yet.
// Params: JetStream context, stream name, subject filter, and max message age.
// Returns: stream lookup/create error.
func ensureStream(js nats.JetStreamContext, streamName, subject string, maxAge time.Duration) error {
	_, err := js.StreamInfo(streamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
