// Package natsbus carries domain events over NATS so that every API instance sees them.
// Events are published as JSON on "<prefix>.<topic>".
package natsbus

import (
	"context"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/events"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Options struct {
	URL           string
	SubjectPrefix string
	// Name identifies the connection on the server.
	Name   string
	Logger core.Logger
}

type Bus struct {
	nc     *nats.Conn
	prefix string
	logger core.Logger
}

var _ events.Bus = (*Bus)(nil)

func Connect(opts Options) (*Bus, error) {
	logger := opts.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats async error", errors.Wrap(err, subject))
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to nats")
	}
	return &Bus{
		nc:     nc,
		prefix: strings.Trim(opts.SubjectPrefix, "."),
		logger: logger,
	}, nil
}

func (b *Bus) subject(topic string) string {
	if topic == events.AllTopics {
		topic = ">"
	}
	if b.prefix == "" {
		return topic
	}
	return b.prefix + "." + topic
}

func (b *Bus) topic(subject string) string {
	if b.prefix == "" {
		return subject
	}
	return strings.TrimPrefix(subject, b.prefix+".")
}

func (b *Bus) Publish(ctx context.Context, evt events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if evt.At.IsZero() {
		evt.At = events.NowFunc().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	if err := b.nc.Publish(b.subject(evt.Topic), data); err != nil {
		return errors.Wrap(err, "publishing event")
	}
	return nil
}

// Subscribe delivers events on the connection's dispatch goroutine; handlers should not block.
func (b *Bus) Subscribe(topic string, h events.Handler) (func(), error) {
	sub, err := b.nc.Subscribe(b.subject(topic), func(msg *nats.Msg) {
		var evt events.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Warn("decoding event", errors.Wrap(err, msg.Subject))
			return
		}
		if evt.Topic == "" {
			evt.Topic = b.topic(msg.Subject)
		}
		h(evt)
	})
	if err != nil {
		return nil, errors.Wrap(err, "subscribing")
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
			b.logger.Warn("unsubscribing", err)
		}
	}, nil
}

// Flush waits until the server has processed everything published so far.
func (b *Bus) Flush(ctx context.Context) error {
	return b.nc.FlushWithContext(ctx)
}

// Close drains pending messages before closing the connection.
func (b *Bus) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return errors.Wrap(err, "draining nats connection")
	}
	return nil
}
