package stream

import "context"

// Observers fans one observation out to several observers in order. The first
// error stops the fan-out.
func Observers(obs ...Observer) Observer {
	var list multi
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multi []Observer

func (m multi) Observe(ctx context.Context, obs Observation) error {
	for _, o := range m {
		if err := o.Observe(ctx, obs); err != nil {
			return err
		}
	}
	return nil
}

func (m multi) StreamEnded(reason EndReason) {
	for _, o := range m {
		if eo, ok := o.(EndObserver); ok {
			eo.StreamEnded(reason)
		}
	}
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, obs Observation) error

func (f ObserverFunc) Observe(ctx context.Context, obs Observation) error { return f(ctx, obs) }
