package refresh

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"surfacesync/pkg/models"
)

// Multi fans an event out to every notifier. One failing notifier does not
// stop the others.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, event models.RedrawEvent) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, n := range m {
		i, n := i, n
		g.Go(func() error {
			if err := n.Notify(ctx, event); err != nil {
				errs[i] = fmt.Errorf("%s: %w", n.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// NotifierFunc adapts a function, mostly for tests and the CLI.
type NotifierFunc func(ctx context.Context, event models.RedrawEvent) error

func (f NotifierFunc) Notify(ctx context.Context, event models.RedrawEvent) error {
	return f(ctx, event)
}

func (f NotifierFunc) Name() string { return "func" }
