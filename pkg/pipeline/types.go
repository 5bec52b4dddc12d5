// Package pipeline implements the flashing workflow as a finite state
// machine: download the image, back up the device flash, pause for the
// user if requested, write the image, record the outcome. It is built on
// the superfly/fsm library; each stage is one transition.
package pipeline

import (
	"fmt"
)

// ErrMissingImage means a write was requested without an image source.
var ErrMissingImage = fmt.Errorf("no firmware image selected")

// SizeClass selects the flash size to back up: class n covers 2^n MB,
// so 0 is 1MB and 4 is 16MB.
type SizeClass int

// Bytes returns the backup length in bytes for this class.
func (s SizeClass) Bytes() uint32 {
	return uint32(1<<s) * 0x100000
}

func (s SizeClass) String() string {
	return fmt.Sprintf("%dMB", 1<<s)
}

// Validate bounds the class to the flash sizes ESP parts ship with.
func (s SizeClass) Validate() error {
	if s < 0 || s > 4 {
		return fmt.Errorf("flash size class %d out of range [0,4]", int(s))
	}
	return nil
}

// FlashRequest is the FSM input: one device, one image, and the
// selected actions.
type FlashRequest struct {
	Port   string
	Baud   int
	Source string

	DoBackup   bool
	BackupSize SizeClass
	DoErase    bool
	DoWrite    bool

	// AutoReset skips the pause between backup and write that otherwise
	// waits for the user to confirm the device is ready.
	AutoReset bool
}

// Validate rejects requests no stage could satisfy. A write without an
// image is the classic user error and gets its own sentinel.
func (r *FlashRequest) Validate() error {
	if r.Port == "" {
		return fmt.Errorf("no serial port selected")
	}
	if !r.DoBackup && !r.DoWrite {
		return fmt.Errorf("nothing to do: enable backup or write")
	}
	if r.DoWrite && r.Source == "" {
		return ErrMissingImage
	}
	if r.DoErase && !r.DoWrite {
		return fmt.Errorf("erase is only performed together with a write")
	}
	if r.DoBackup {
		if err := r.BackupSize.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FlashResponse is the FSM output, accumulated across transitions.
type FlashResponse struct {
	// From Prepare
	SessionID int64

	// From Download
	ImagePath string
	SHA256    string
	ImageSize int64

	// From Backup
	BackupPath string

	// Terminal
	Status       string
	ErrorMessage string
}

// State names
const (
	StatePrepare  = "prepare"
	StateDownload = "download"
	StateBackup   = "backup"
	StateWrite    = "write"
	StateComplete = "complete"
	StateFailed   = "failed"
)
