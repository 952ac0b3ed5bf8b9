package notify

import (
	"context"
	"errors"

	"github.com/leandrotocalini/wagateway/internal/payload"
)

// Tee fans one payload out to several sinks. Every sink is called even if
// an earlier one fails.
type Tee []Sink

// Notify implements Sink.
func (t Tee) Notify(ctx context.Context, account string, p payload.Payload) error {
	var errs []error
	for _, s := range t {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, account, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, account string, p payload.Payload) error

// Notify implements Sink.
func (f SinkFunc) Notify(ctx context.Context, account string, p payload.Payload) error {
	return f(ctx, account, p)
}
