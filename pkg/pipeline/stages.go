package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/superfly/fsm"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/db"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/esp"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/firmware"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/storage"
)

// Fetcher materializes an image source as a local file. *storage.Fetcher
// is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, src storage.Source, destPath string, progress storage.Progress) (*storage.DownloadResult, error)
}

// Machine holds dependencies for pipeline transitions
type Machine struct {
	repo      *db.Repository
	fetcher   Fetcher
	driver    esp.Driver
	validator *firmware.Validator
	ctl       *Controller
	workDir   string
	backupDir string
	progress  esp.Progress
}

// NewMachine creates a pipeline machine with dependencies. progress may
// be nil when nobody renders it.
func NewMachine(
	repo *db.Repository,
	fetcher Fetcher,
	driver esp.Driver,
	validator *firmware.Validator,
	ctl *Controller,
	workDir string,
	backupDir string,
	progress esp.Progress,
) *Machine {
	if progress == nil {
		progress = func(float64) {}
	}
	return &Machine{
		repo:      repo,
		fetcher:   fetcher,
		driver:    driver,
		validator: validator,
		ctl:       ctl,
		workDir:   workDir,
		backupDir: backupDir,
		progress:  progress,
	}
}

// checkAbort turns a pending abort into a terminal transition before the
// stage does any work.
func (m *Machine) checkAbort() error {
	if m.ctl.Aborted() {
		return fsm.Abort(ErrAborted)
	}
	return nil
}

// handlePrepare records the session so history survives crashes mid-run
func (m *Machine) handlePrepare(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	slog.Info("pipeline_prepare", "port", req.Msg.Port, "source", req.Msg.Source)

	if err := m.checkAbort(); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &FlashResponse{}
	}

	session := &db.Session{
		Port:   req.Msg.Port,
		Source: req.Msg.Source,
		Status: db.StatusRunning,
	}
	if err := m.repo.CreateSession(session); err != nil {
		return nil, fsm.Abort(errors.Wrap(err, "failed to record session"))
	}
	resp.SessionID = session.ID

	return fsm.NewResponse(resp), nil
}

// handleDownload fetches and validates the image; skipped when the run
// is backup-only
func (m *Machine) handleDownload(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	if err := m.checkAbort(); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	if !req.Msg.DoWrite {
		slog.Info("pipeline_download_skipped", "port", req.Msg.Port, "reason", "backup_only")
		return fsm.NewResponse(resp), nil
	}

	src, err := storage.ResolveSource(req.Msg.Source)
	if err != nil {
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(err)
	}

	downloadDir := filepath.Join(m.workDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fsm.Abort(errors.Wrap(err, "failed to create download dir"))
	}

	localPath := filepath.Join(downloadDir, filepath.Base(req.Msg.Source))
	slog.Info("download_started", "source", src.String(), "local_path", localPath)

	bound, cancel := m.ctl.Bind(ctx)
	defer cancel()

	result, err := m.fetcher.Fetch(bound, src, localPath, func(f float64) { m.progress(f) })
	if err != nil {
		slog.Error("download_failed", "source", src.String(), "error", err)
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(err)
	}

	image, err := os.ReadFile(result.LocalPath)
	if err != nil {
		return nil, fsm.Abort(errors.Wrap(err, "failed to read downloaded image"))
	}
	if err := m.validator.ValidateImage(image); err != nil {
		slog.Error("image_rejected", "source", src.String(), "error", err)
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(err)
	}

	resp.ImagePath = result.LocalPath
	resp.SHA256 = result.SHA256
	resp.ImageSize = result.Size

	slog.Info("download_complete",
		"source", src.String(),
		"size", result.Size,
		"sha256", result.SHA256[:16]+"...",
	)

	session := &db.Session{
		ID:     resp.SessionID,
		Port:   req.Msg.Port,
		Source: req.Msg.Source,
		Status: db.StatusRunning,

		ImagePath:   result.LocalPath,
		ImageSHA256: result.SHA256,
	}
	if err := m.repo.UpdateSession(session); err != nil {
		return nil, errors.Wrap(err, "failed to update session")
	}

	return fsm.NewResponse(resp), nil
}

// handleBackup dumps the device flash to a timestamped file, then holds
// at the checkpoint until the user releases it
func (m *Machine) handleBackup(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	if err := m.checkAbort(); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	if !req.Msg.DoBackup {
		slog.Info("pipeline_backup_skipped", "port", req.Msg.Port)
		return fsm.NewResponse(resp), nil
	}

	if err := os.MkdirAll(m.backupDir, 0755); err != nil {
		return nil, fsm.Abort(errors.Wrap(err, "failed to create backup dir"))
	}

	backupPath := filepath.Join(m.backupDir,
		fmt.Sprintf("backup_%s.bin", time.Now().Format("20060102_150405")))
	size := req.Msg.BackupSize.Bytes()

	slog.Info("backup_started",
		"port", req.Msg.Port,
		"path", backupPath,
		"size_class", req.Msg.BackupSize.String(),
		"size", size,
	)

	bound, cancel := m.ctl.Bind(ctx)
	defer cancel()

	if err := m.driver.ReadFlash(bound, 0, size, backupPath, m.progress); err != nil {
		if m.ctl.Aborted() {
			return nil, fsm.Abort(ErrAborted)
		}
		slog.Error("backup_failed", "port", req.Msg.Port, "error", err)
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(err)
	}

	resp.BackupPath = backupPath
	slog.Info("backup_complete", "port", req.Msg.Port, "path", backupPath)

	if err := m.repo.RecordBackup(&db.Backup{
		SessionID: resp.SessionID,
		Path:      backupPath,
		SizeBytes: int64(size),
	}); err != nil {
		return nil, errors.Wrap(err, "failed to record backup")
	}

	// Without auto-reset the user must power-cycle the device back into
	// download mode before the write, so hold here until they confirm.
	if req.Msg.DoWrite && !req.Msg.AutoReset {
		slog.Info("awaiting_user", "port", req.Msg.Port)
		if err := m.ctl.WaitForUser(ctx); err != nil {
			slog.Info("checkpoint_released_by_abort", "port", req.Msg.Port)
			return nil, fsm.Abort(err)
		}
		slog.Info("user_confirmed", "port", req.Msg.Port)
	}

	return fsm.NewResponse(resp), nil
}

// handleWrite flashes the validated image
func (m *Machine) handleWrite(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	if err := m.checkAbort(); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	if !req.Msg.DoWrite {
		slog.Info("pipeline_write_skipped", "port", req.Msg.Port)
		return fsm.NewResponse(resp), nil
	}

	image, err := os.ReadFile(resp.ImagePath)
	if err != nil {
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(errors.Wrap(err, "failed to read image"))
	}

	slog.Info("write_started",
		"port", req.Msg.Port,
		"image", resp.ImagePath,
		"size", len(image),
		"erase_all", req.Msg.DoErase,
	)

	bound, cancel := m.ctl.Bind(ctx)
	defer cancel()

	opts := esp.WriteOptions{EraseAll: req.Msg.DoErase, FlashMode: "dout"}
	if err := m.driver.WriteFlash(bound, image, 0, opts, m.progress); err != nil {
		if m.ctl.Aborted() {
			return nil, fsm.Abort(ErrAborted)
		}
		slog.Error("write_failed", "port", req.Msg.Port, "error", err)
		resp.ErrorMessage = err.Error()
		return nil, fsm.Abort(err)
	}

	slog.Info("write_complete", "port", req.Msg.Port, "size", len(image))
	return fsm.NewResponse(resp), nil
}

// handleComplete marks the session as succeeded
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	resp := req.W.Msg
	if resp == nil {
		resp = &FlashResponse{}
	}

	session := &db.Session{
		ID:          resp.SessionID,
		Port:        req.Msg.Port,
		Source:      req.Msg.Source,
		ImagePath:   resp.ImagePath,
		ImageSHA256: resp.SHA256,
		BackupPath:  resp.BackupPath,
		Status:      db.StatusSucceeded,
	}
	if err := m.repo.UpdateSession(session); err != nil {
		return nil, errors.Wrap(err, "failed to finish session")
	}
	resp.Status = db.StatusSucceeded

	slog.Info("pipeline_complete", "port", req.Msg.Port, "session_id", resp.SessionID)
	return fsm.NewResponse(resp), nil
}
