package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestController_AbortIsIdempotent(t *testing.T) {
	ctl := NewController()

	ctl.Abort()
	ctl.Abort()
	ctl.Abort()

	if !ctl.Aborted() {
		t.Error("controller should report aborted")
	}
	select {
	case <-ctl.Done():
	default:
		t.Error("Done channel should be closed after Abort")
	}
}

func TestController_ContinueReleasesCheckpoint(t *testing.T) {
	ctl := NewController()

	// Continue before the checkpoint is reached must not be lost.
	ctl.Continue()

	if err := ctl.WaitForUser(context.Background()); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestController_AbortReleasesCheckpoint(t *testing.T) {
	ctl := NewController()

	done := make(chan error, 1)
	go func() { done <- ctl.WaitForUser(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	ctl.Abort()

	select {
	case err := <-done:
		if !errors.Is(err, ErrAborted) {
			t.Errorf("error = %v, want ErrAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("checkpoint did not release on abort")
	}
}

func TestController_CheckpointSignalledOnlyWhenWaiting(t *testing.T) {
	ctl := NewController()

	// Nothing waits yet, so nothing is signalled.
	select {
	case <-ctl.Checkpoint():
		t.Fatal("checkpoint signalled before the pipeline reached it")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		ctl.Continue()
	}()
	done := make(chan error, 1)
	go func() { done <- ctl.WaitForUser(context.Background()) }()

	select {
	case <-ctl.Checkpoint():
	case <-time.After(2 * time.Second):
		t.Fatal("checkpoint arrival not signalled")
	}

	if err := <-done; err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestController_WaitHonorsContext(t *testing.T) {
	ctl := NewController()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := ctl.WaitForUser(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestController_BindCancelsOnAbort(t *testing.T) {
	ctl := NewController()

	bound, cancel := ctl.Bind(context.Background())
	defer cancel()

	ctl.Abort()

	select {
	case <-bound.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bound context not cancelled on abort")
	}
}
