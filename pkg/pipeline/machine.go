package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/superfly/fsm"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/db"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
)

// Register registers the flashing FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[FlashRequest, FlashResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[FlashRequest, FlashResponse](manager, "device-flash").
		Start(StatePrepare, m.handlePrepare).
		To(StateDownload, m.handleDownload).
		To(StateBackup, m.handleBackup).
		To(StateWrite, m.handleWrite).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Outcome is the single terminal result of a run.
type Outcome struct {
	Status string
	Err    error
}

// Run executes one flashing session end to end and classifies the
// terminal state exactly once: succeeded, aborted, or failed with its
// cause.
func (m *Machine) Run(ctx context.Context, manager *fsm.Manager, req *FlashRequest) (*FlashResponse, Outcome) {
	resp := &FlashResponse{}

	if err := req.Validate(); err != nil {
		return resp, m.finish(resp, Outcome{Status: db.StatusFailed, Err: err})
	}

	start, _, err := m.Register(ctx, manager)
	if err != nil {
		return resp, m.finish(resp, Outcome{Status: db.StatusFailed, Err: err})
	}

	runID := fmt.Sprintf("%s-%d", req.Port, time.Now().UnixNano())
	version, err := start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return resp, m.finish(resp, Outcome{Status: db.StatusFailed, Err: errors.Wrap(err, "FSM start failed")})
	}

	slog.Info("pipeline_started", "run_id", runID, "version", version)

	err = manager.Wait(ctx, version)

	var outcome Outcome
	switch {
	case err == nil:
		outcome = Outcome{Status: db.StatusSucceeded}
	case m.ctl.Aborted():
		outcome = Outcome{Status: db.StatusAborted, Err: ErrAborted}
	default:
		outcome = Outcome{Status: db.StatusFailed, Err: err}
	}

	return resp, m.finish(resp, outcome)
}

// finish records the terminal state. The success path already updated
// the session inside handleComplete; everything else lands here with the
// cause preserved.
func (m *Machine) finish(resp *FlashResponse, outcome Outcome) Outcome {
	resp.Status = outcome.Status
	if outcome.Err != nil {
		resp.ErrorMessage = outcome.Err.Error()
	}

	if outcome.Status != db.StatusSucceeded && resp.SessionID != 0 {
		if err := m.repo.FinishSession(resp.SessionID, outcome.Status, resp.ErrorMessage); err != nil {
			slog.Error("session_finish_failed", "session_id", resp.SessionID, "error", err)
		}
	}

	slog.Info("pipeline_finished", "status", outcome.Status, "error", resp.ErrorMessage)
	return outcome
}
