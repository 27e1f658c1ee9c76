package notify

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/port"
)

// MultiSink delivers to every sink concurrently and reports the first failure.
// A failing sink does not stop delivery to the others.
type MultiSink struct {
	sinks []port.NotificationSink
}

func NewMultiSink(sinks ...port.NotificationSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Notify(ctx context.Context, n domain.Notification) error {
	var g errgroup.Group
	for _, sink := range m.sinks {
		g.Go(func() error {
			return sink.Notify(ctx, n)
		})
	}
	return g.Wait()
}
