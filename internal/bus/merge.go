package bus

import (
	"context"
	"sync"
)

// Merge combines several subscriptions into one. Every message arriving on
// any source is yielded exactly once on the merged stream. Closing the merged
// subscription (or cancelling ctx) closes every source; the merged stream
// also ends on its own once all sources are exhausted.
func Merge(ctx context.Context, sources ...*Subscription) *Subscription {
	out := &Subscription{
		ch:   make(chan Message, subscriberBuffer),
		done: make(chan struct{}),
	}
	out.cleanup = func(*Subscription) {
		for _, src := range sources {
			src.Close()
		}
	}

	var wg sync.WaitGroup
	wg.Add(len(sources))
	for _, src := range sources {
		go func(src *Subscription) {
			defer wg.Done()
			for msg := range src.C() {
				select {
				case out.ch <- msg:
				case <-out.done:
					return
				}
			}
		}(src)
	}

	// The output channel closes only after every forwarder has stopped, so a
	// receiver never misses a message that was already forwarded.
	go func() {
		wg.Wait()
		out.Close()
		close(out.ch)
	}()

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				out.Close()
			case <-out.done:
			}
		}()
	}
	return out
}
