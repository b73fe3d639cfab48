package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	eventStream   = "cds-events"
	eventSubjects = "cds.>"
)

// EventPublisher announces mutations of the data tree.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, ev models.Event) error
	Close()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, models.Event) error { return nil }
func (NopPublisher) Close()                                              {}

// JetStreamPublisher publishes durable events on the cds-events stream.
type JetStreamPublisher struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger
}

// ConnectNATS connects to url, enables JetStream and makes sure the event
// stream exists.
func ConnectNATS(url string, logger *zap.Logger) (*JetStreamPublisher, error) {
	log := logging.OrNop(logger).Named("nats")

	nc, err := nats.Connect(url,
		nats.Name("content-delivery-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, log: log}
	if err := p.ensureStream(); err != nil {
		// publishing still works against an operator-managed stream
		log.Warn("ensure stream", zap.String("stream", eventStream), zap.Error(err))
	}
	log.Info("connected", zap.String("url", nc.ConnectedUrl()))
	return p, nil
}

func (p *JetStreamPublisher) ensureStream() error {
	if _, err := p.js.StreamInfo(eventStream); err == nil {
		return nil
	}
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:     eventStream,
		Subjects: []string{eventSubjects},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
	})
	return err
}

// Publish sends ev with a fresh message ID so redelivered publishes dedupe.
func (p *JetStreamPublisher) Publish(ctx context.Context, subject string, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(subject, data, nats.MsgId(uuid.NewString()), nats.Context(ctx)); err != nil {
		p.log.Warn("publish failed", zap.String("subject", subject), zap.Error(err))
		return err
	}
	return nil
}

// CheckConnection fails while the client is disconnected or the event stream
// is unavailable.
func (p *JetStreamPublisher) CheckConnection(ctx context.Context) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats: %s", p.nc.Status())
	}
	_, err := p.js.StreamInfo(eventStream, nats.Context(ctx))
	return err
}

func (p *JetStreamPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
