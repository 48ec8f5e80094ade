package channel

import (
	"context"
	"sync"
	"time"
)

// keepTyping calls trigger immediately and then every interval until the
// returned release func is called or ctx is done. Release is idempotent.
func keepTyping(ctx context.Context, interval time.Duration, trigger func()) func() {
	trigger()

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				trigger()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
		})
	}
}
