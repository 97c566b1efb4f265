// Package dispatch fans one rendered payload out to many push
// subscriptions under a fixed concurrency bound and aggregates the
// per-recipient outcomes.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/domain/model"
	"github.com/stagepass/notify/internal/observability/metrics"
	"github.com/stagepass/notify/internal/observability/statsd"
	"github.com/stagepass/notify/internal/push"
)

const (
	// DefaultConcurrency bounds in-flight sends per dispatch call.
	DefaultConcurrency = 10
	// MaxConcurrency is the hard ceiling regardless of configuration.
	MaxConcurrency = 50
)

// Options configures a Dispatcher.
type Options struct {
	Sender      core.PushSender
	Concurrency int
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// Dispatcher sends one payload to many subscriptions concurrently.
type Dispatcher struct {
	sender      core.PushSender
	concurrency int
	logger      *slog.Logger
	metrics     statsd.Sink
}

// New creates a Dispatcher. Concurrency is clamped to [1, MaxConcurrency].
func New(opts Options) (*Dispatcher, error) {
	if opts.Sender == nil {
		return nil, errors.New("push sender is required")
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		sender:      opts.Sender,
		concurrency: concurrency,
		logger:      logger.With("component", "dispatcher"),
		metrics:     opts.Metrics,
	}, nil
}

// Dispatch delivers payload to every subscription and reports the
// aggregate. One recipient's failure never aborts the rest; the result
// always accounts for every subscription (Sent+Failed == len(subs)).
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	subs []*model.PushSubscription,
	payload []byte,
	opts core.SendOptions,
) (*model.DispatchResult, error) {
	result := &model.DispatchResult{}
	if len(subs) == 0 {
		return result, nil
	}
	start := time.Now()

	var mu sync.Mutex
	group := &errgroup.Group{}
	group.SetLimit(d.concurrency)

	for _, sub := range subs {
		group.Go(func() error {
			err := d.sender.Send(ctx, sub, payload, opts)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				result.Sent++
				return nil
			}

			result.Failed++
			var deliveryErr *push.DeliveryError
			if errors.As(err, &deliveryErr) {
				if deliveryErr.Class.Permanent() {
					result.InvalidEndpoints = append(result.InvalidEndpoints, sub.Endpoint)
				}
				result.Errors = append(result.Errors, model.DispatchError{
					Endpoint:   sub.Endpoint,
					StatusCode: deliveryErr.StatusCode,
					Message:    deliveryErr.Message,
				})
			} else {
				result.Errors = append(result.Errors, model.DispatchError{
					Endpoint: sub.Endpoint,
					Message:  err.Error(),
				})
			}
			return nil
		})
	}

	// Workers swallow send errors into the result, so Wait only reflects
	// panics surfaced by the group.
	if err := group.Wait(); err != nil {
		return nil, err
	}

	d.logger.InfoContext(ctx, "dispatch completed",
		"recipients", len(subs),
		"sent", result.Sent,
		"failed", result.Failed,
		"invalid_endpoints", len(result.InvalidEndpoints),
	)
	metrics.EmitDispatch(d.metrics, metrics.DispatchMetric{
		Sent:             result.Sent,
		Failed:           result.Failed,
		InvalidEndpoints: len(result.InvalidEndpoints),
		Duration:         time.Since(start),
	})

	return result, nil
}

var _ core.Dispatcher = (*Dispatcher)(nil)
