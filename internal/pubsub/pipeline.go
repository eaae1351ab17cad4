package pubsub

import "context"

// Filter forwards the values of in for which keep returns true. The
// returned channel is closed when in is closed or ctx is done.
func Filter[T any](ctx context.Context, in <-chan T, keep func(T) bool) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				if !keep(v) {
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Map applies fn to every value of in, preserving order. Values for which
// fn returns false are skipped, which lets a stage both convert and drop
// payloads it cannot represent.
func Map[T, U any](ctx context.Context, in <-chan T, fn func(T) (U, bool)) <-chan U {
	out := make(chan U)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				u, ok := fn(v)
				if !ok {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
