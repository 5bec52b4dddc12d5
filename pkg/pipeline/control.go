package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// ErrAborted is the cause attached to a run the user cancelled.
var ErrAborted = fmt.Errorf("flashing aborted by user")

// Controller carries the user's live decisions into a running pipeline:
// abort at any time, or release the checkpoint between backup and write.
// All methods are safe for concurrent use.
type Controller struct {
	done      chan struct{}
	abortOnce sync.Once

	// proceed is buffered so Continue never blocks; a single token is
	// enough because the pipeline has exactly one checkpoint.
	proceed chan struct{}

	// arrived is signalled when the pipeline starts waiting at the
	// checkpoint, so a UI can prompt at the right moment.
	arrived chan struct{}
}

func NewController() *Controller {
	return &Controller{
		done:    make(chan struct{}),
		proceed: make(chan struct{}, 1),
		arrived: make(chan struct{}, 1),
	}
}

// Abort requests cancellation. Safe to call any number of times, from
// any goroutine, at any point in the run.
func (c *Controller) Abort() {
	c.abortOnce.Do(func() { close(c.done) })
}

// Done is closed once Abort has been called.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Aborted reports whether Abort has been called.
func (c *Controller) Aborted() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Continue releases the checkpoint. Calling it before the pipeline
// reaches the checkpoint is fine; the token is consumed when it gets
// there.
func (c *Controller) Continue() {
	select {
	case c.proceed <- struct{}{}:
	default:
	}
}

// Checkpoint is signalled once the pipeline is actually waiting at the
// checkpoint. Runs that never reach it (aborted, failed, or auto-reset)
// never signal.
func (c *Controller) Checkpoint() <-chan struct{} {
	return c.arrived
}

// WaitForUser blocks until Continue, Abort, or context expiry.
func (c *Controller) WaitForUser(ctx context.Context) error {
	select {
	case c.arrived <- struct{}{}:
	default:
	}

	select {
	case <-c.proceed:
		return nil
	case <-c.done:
		return ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bind derives a context that is cancelled when the run is aborted, so
// long device operations stop within one block of the Abort call.
func (c *Controller) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-bound.Done():
		}
	}()
	return bound, cancel
}
