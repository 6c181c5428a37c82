package logging

import (
	"context"
	"log/slog"
)

// BrokerHandler is a slog.Handler that publishes every record to a Broker in
// addition to delegating to the wrapped handler. The deployment_id and
// execution_id attributes are lifted onto the event so the broker can route
// it; everything else lands in the event's fields.
type BrokerHandler struct {
	inner  slog.Handler
	broker *Broker
	attrs  []slog.Attr
}

func NewBrokerHandler(inner slog.Handler, broker *Broker) *BrokerHandler {
	return &BrokerHandler{inner: inner, broker: broker}
}

func (h *BrokerHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *BrokerHandler) Handle(ctx context.Context, r slog.Record) error {
	e := Event{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}
	fields := make(map[string]any)
	collect := func(a slog.Attr) bool {
		switch a.Key {
		case "execution_id":
			e.ExecutionID = a.Value.String()
		case "deployment_id":
			e.DeploymentID = a.Value.String()
		default:
			fields[a.Key] = a.Value.Any()
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool { return collect(a) })
	if len(fields) > 0 {
		e.Fields = fields
	}
	h.broker.Publish(e)

	return h.inner.Handle(ctx, r)
}

func (h *BrokerHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &BrokerHandler{
		inner:  h.inner.WithAttrs(attrs),
		broker: h.broker,
		attrs:  merged,
	}
}

func (h *BrokerHandler) WithGroup(name string) slog.Handler {
	return &BrokerHandler{
		inner:  h.inner.WithGroup(name),
		broker: h.broker,
		attrs:  h.attrs,
	}
}
