// Package events publishes committed relationship changes to NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/meetloop/backend/internal/logging"
	"github.com/meetloop/backend/internal/relationships"
)

// DefaultSubjectPrefix is prepended to the command name to form the subject.
const DefaultSubjectPrefix = "relationships"

// Connect dials NATS and keeps reconnecting for the lifetime of the process.
func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	nc, err := nats.Connect(url,
		nats.Name("meetloop"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// NatsPublisher sends each event as JSON on "<prefix>.<command>".
type NatsPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNatsPublisher returns a publisher over an established connection.
func NewNatsPublisher(nc *nats.Conn, prefix string) *NatsPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NatsPublisher{nc: nc, prefix: prefix}
}

// Publish hands the event to the connection's outbound buffer.
func (p *NatsPublisher) Publish(ctx context.Context, event relationships.Event) error {
	msg, err := newMessage(ctx, p.prefix, event)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	logging.FromContext(ctx).Debug("relationship event published", slog.String("subject", msg.Subject))
	return nil
}

// Subject returns the subject an event for cmd is published on.
func Subject(prefix string, cmd relationships.Command) string {
	return prefix + "." + string(cmd)
}

func newMessage(ctx context.Context, prefix string, event relationships.Event) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode relationship event: %w", err)
	}
	msg := &nats.Msg{
		Subject: Subject(prefix, event.Command),
		Data:    data,
		Header:  nats.Header{},
	}
	if traceID := logging.TraceIDFromContext(ctx); traceID != "" {
		msg.Header.Set("Trace-Id", traceID)
	}
	if requestID := logging.RequestIDFromContext(ctx); requestID != "" {
		msg.Header.Set("Request-Id", requestID)
	}
	return msg, nil
}

// Noop discards events. It is used when no broker is configured.
type Noop struct{}

// Publish discards the event.
func (Noop) Publish(context.Context, relationships.Event) error { return nil }

var (
	_ relationships.EventPublisher = (*NatsPublisher)(nil)
	_ relationships.EventPublisher = Noop{}
)
