package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/superfly/fsm"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/db"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/esp"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/firmware"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/storage"
)

// fakeFetcher serves a canned image or a canned failure.
type fakeFetcher struct {
	payload []byte
	err     error
	calls   int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, src storage.Source, destPath string, progress storage.Progress) (*storage.DownloadResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(destPath, f.payload, 0o644); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(f.payload)
	return &storage.DownloadResult{LocalPath: destPath, SHA256: hex.EncodeToString(sum[:]), Size: int64(len(f.payload))}, nil
}

// fakeDriver records calls and can block until cancelled.
type fakeDriver struct {
	reads, writes int32
	readErr       error
	writeErr      error
	blockWrite    bool
}

func (d *fakeDriver) ReadFlash(ctx context.Context, offset, size uint32, path string, progress esp.Progress) error {
	atomic.AddInt32(&d.reads, 1)
	if d.readErr != nil {
		return d.readErr
	}
	return os.WriteFile(path, make([]byte, 16), 0o644)
}

func (d *fakeDriver) WriteFlash(ctx context.Context, image []byte, offset uint32, opts esp.WriteOptions, progress esp.Progress) error {
	atomic.AddInt32(&d.writes, 1)
	if d.blockWrite {
		<-ctx.Done()
		return ctx.Err()
	}
	return d.writeErr
}

func (d *fakeDriver) Close() error { return nil }

func firmwareImage(n int) []byte {
	return append([]byte{0xE9}, make([]byte, n)...)
}

func newTestMachine(t *testing.T, fetcher Fetcher, driver esp.Driver, ctl *Controller) (*Machine, *db.Repository) {
	t.Helper()

	dir := t.TempDir()
	repo, err := db.NewRepository(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("repo init failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	validator := firmware.NewValidator(8 * 1024 * 1024)
	m := NewMachine(repo, fetcher, driver, validator, ctl,
		filepath.Join(dir, "work"), filepath.Join(dir, "backups"), nil)
	return m, repo
}

func newSession(t *testing.T, m *Machine, req *FlashRequest) *FlashResponse {
	t.Helper()
	resp := &FlashResponse{}
	if _, err := m.handlePrepare(context.Background(), fsm.NewRequest(req, resp)); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	return resp
}

func TestSizeClass(t *testing.T) {
	tests := []struct {
		class SizeClass
		bytes uint32
		str   string
	}{
		{0, 0x100000, "1MB"},
		{1, 0x200000, "2MB"},
		{2, 0x400000, "4MB"},
		{3, 0x800000, "8MB"},
		{4, 0x1000000, "16MB"},
	}

	for _, tt := range tests {
		if got := tt.class.Bytes(); got != tt.bytes {
			t.Errorf("SizeClass(%d).Bytes() = 0x%x, want 0x%x", tt.class, got, tt.bytes)
		}
		if got := tt.class.String(); got != tt.str {
			t.Errorf("SizeClass(%d).String() = %q, want %q", tt.class, got, tt.str)
		}
	}

	if err := SizeClass(5).Validate(); err == nil {
		t.Error("class 5 should be rejected")
	}
	if err := SizeClass(-1).Validate(); err == nil {
		t.Error("negative class should be rejected")
	}
}

func TestFlashRequest_Validate(t *testing.T) {
	tests := []struct {
		name        string
		req         FlashRequest
		shouldErr   bool
		wantMissing bool
	}{
		{"write with source", FlashRequest{Port: "p", DoWrite: true, Source: "a.bin"}, false, false},
		{"backup only", FlashRequest{Port: "p", DoBackup: true, BackupSize: 2}, false, false},
		{"write without image", FlashRequest{Port: "p", DoWrite: true}, true, true},
		{"no port", FlashRequest{DoWrite: true, Source: "a.bin"}, true, false},
		{"nothing to do", FlashRequest{Port: "p"}, true, false},
		{"erase without write", FlashRequest{Port: "p", DoBackup: true, DoErase: true}, true, false},
		{"bad size class", FlashRequest{Port: "p", DoBackup: true, BackupSize: 9}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.shouldErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantMissing && !errors.Is(err, ErrMissingImage) {
				t.Errorf("error = %v, want ErrMissingImage", err)
			}
		})
	}
}

func TestHandleDownload_FetchFailureNeverTouchesDevice(t *testing.T) {
	fetcher := &fakeFetcher{err: &storage.NetworkError{URL: "http://x/fw.bin", Status: http.StatusNotFound}}
	driver := &fakeDriver{}
	m, _ := newTestMachine(t, fetcher, driver, NewController())

	req := &FlashRequest{Port: "/dev/ttyUSB0", Source: "http://x/fw.bin", DoWrite: true}
	resp := newSession(t, m, req)

	_, err := m.handleDownload(context.Background(), fsm.NewRequest(req, resp))
	if err == nil {
		t.Fatal("expected download failure")
	}
	if resp.ErrorMessage == "" {
		t.Error("failure cause not recorded")
	}
	if atomic.LoadInt32(&driver.reads)+atomic.LoadInt32(&driver.writes) != 0 {
		t.Error("device touched despite failed download")
	}
}

func TestHandleDownload_RejectsNonFirmware(t *testing.T) {
	fetcher := &fakeFetcher{payload: []byte("not an image")}
	m, _ := newTestMachine(t, fetcher, &fakeDriver{}, NewController())

	req := &FlashRequest{Port: "/dev/ttyUSB0", Source: "fw.bin", DoWrite: true}
	resp := newSession(t, m, req)

	_, err := m.handleDownload(context.Background(), fsm.NewRequest(req, resp))
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(resp.ErrorMessage, "firmware") {
		t.Errorf("unexpected cause: %q", resp.ErrorMessage)
	}
}

func TestHandleBackup_CheckpointWaitsForUser(t *testing.T) {
	ctl := NewController()
	driver := &fakeDriver{}
	m, repo := newTestMachine(t, &fakeFetcher{payload: firmwareImage(64)}, driver, ctl)

	req := &FlashRequest{
		Port: "/dev/ttyUSB0", Source: "fw.bin",
		DoBackup: true, BackupSize: 2, DoWrite: true,
	}
	resp := newSession(t, m, req)

	done := make(chan error, 1)
	go func() {
		_, err := m.handleBackup(context.Background(), fsm.NewRequest(req, resp))
		done <- err
	}()

	// The backup itself finishes quickly; the stage must then hold.
	select {
	case err := <-done:
		t.Fatalf("backup stage returned before user confirmation: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	ctl.Continue()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("backup stage failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backup stage did not resume after Continue")
	}

	if resp.BackupPath == "" {
		t.Fatal("backup path not recorded")
	}
	if base := filepath.Base(resp.BackupPath); !strings.HasPrefix(base, "backup_") || !strings.HasSuffix(base, ".bin") {
		t.Errorf("unexpected backup file name %q", base)
	}

	backups, err := repo.ListBackups()
	if err != nil || len(backups) != 1 {
		t.Fatalf("backup history: %v, %v", backups, err)
	}
	if atomic.LoadInt32(&driver.reads) != 1 {
		t.Errorf("reads = %d, want 1", driver.reads)
	}
}

func TestHandleBackup_AutoResetSkipsCheckpoint(t *testing.T) {
	ctl := NewController()
	m, _ := newTestMachine(t, &fakeFetcher{}, &fakeDriver{}, ctl)

	req := &FlashRequest{
		Port: "/dev/ttyUSB0", Source: "fw.bin",
		DoBackup: true, BackupSize: 0, DoWrite: true, AutoReset: true,
	}
	resp := newSession(t, m, req)

	done := make(chan error, 1)
	go func() {
		_, err := m.handleBackup(context.Background(), fsm.NewRequest(req, resp))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("backup stage failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backup stage blocked despite auto-reset")
	}
}

func TestHandleBackup_AbortAtCheckpoint(t *testing.T) {
	ctl := NewController()
	m, _ := newTestMachine(t, &fakeFetcher{}, &fakeDriver{}, ctl)

	req := &FlashRequest{
		Port: "/dev/ttyUSB0", Source: "fw.bin",
		DoBackup: true, BackupSize: 1, DoWrite: true,
	}
	resp := newSession(t, m, req)

	done := make(chan error, 1)
	go func() {
		_, err := m.handleBackup(context.Background(), fsm.NewRequest(req, resp))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	ctl.Abort()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("abort at checkpoint should fail the stage")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backup stage did not release on abort")
	}
}

func TestHandleWrite_AbortCancelsDriver(t *testing.T) {
	ctl := NewController()
	driver := &fakeDriver{blockWrite: true}
	m, _ := newTestMachine(t, &fakeFetcher{}, driver, ctl)

	dir := t.TempDir()
	imagePath := filepath.Join(dir, "fw.bin")
	if err := os.WriteFile(imagePath, firmwareImage(256), 0o644); err != nil {
		t.Fatal(err)
	}

	req := &FlashRequest{Port: "/dev/ttyUSB0", Source: "fw.bin", DoWrite: true}
	resp := newSession(t, m, req)
	resp.ImagePath = imagePath

	done := make(chan error, 1)
	go func() {
		_, err := m.handleWrite(context.Background(), fsm.NewRequest(req, resp))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	ctl.Abort()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("aborted write should fail the stage")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write did not stop on abort")
	}
}

func TestHandleStages_SkipPendingAbort(t *testing.T) {
	ctl := NewController()
	driver := &fakeDriver{}
	fetcher := &fakeFetcher{payload: firmwareImage(64)}
	m, _ := newTestMachine(t, fetcher, driver, ctl)

	req := &FlashRequest{Port: "/dev/ttyUSB0", Source: "fw.bin", DoWrite: true, DoBackup: true, BackupSize: 1}
	resp := newSession(t, m, req)

	ctl.Abort()

	if _, err := m.handleDownload(context.Background(), fsm.NewRequest(req, resp)); err == nil {
		t.Error("download should refuse to start after abort")
	}
	if _, err := m.handleBackup(context.Background(), fsm.NewRequest(req, resp)); err == nil {
		t.Error("backup should refuse to start after abort")
	}
	if _, err := m.handleWrite(context.Background(), fsm.NewRequest(req, resp)); err == nil {
		t.Error("write should refuse to start after abort")
	}
	if atomic.LoadInt32(&fetcher.calls) != 0 || atomic.LoadInt32(&driver.reads) != 0 || atomic.LoadInt32(&driver.writes) != 0 {
		t.Error("work performed after abort")
	}
}

func TestFinish_ClassifiesOutcome(t *testing.T) {
	ctl := NewController()
	m, repo := newTestMachine(t, &fakeFetcher{}, &fakeDriver{}, ctl)

	req := &FlashRequest{Port: "/dev/ttyUSB0", Source: "fw.bin", DoWrite: true}
	resp := newSession(t, m, req)

	cause := &storage.NetworkError{URL: "http://x/fw.bin", Status: 500}
	outcome := m.finish(resp, Outcome{Status: db.StatusFailed, Err: cause})

	if outcome.Status != db.StatusFailed || !errors.As(outcome.Err, new(*storage.NetworkError)) {
		t.Errorf("outcome = %+v", outcome)
	}

	sessions, err := repo.ListSessions(1)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions: %v, %v", sessions, err)
	}
	if sessions[0].Status != db.StatusFailed || sessions[0].ErrorMessage == "" {
		t.Errorf("session not finished with cause: %+v", sessions[0])
	}
}
