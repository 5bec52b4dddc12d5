// Package esp talks to the ESP serial bootloader: reset-into-bootloader,
// chip sync, flash read-back for backups, and image writes with optional
// full-chip erase. The pipeline consumes it through the Driver interface
// and never sees the wire protocol.
package esp

import (
	"context"
	"fmt"
)

// Progress receives a stage-local completion fraction in [0,1].
type Progress func(fraction float64)

// WriteOptions modify a flash write.
type WriteOptions struct {
	// EraseAll wipes the whole chip before writing, not only the sectors
	// the image covers. Recommended for first-time Tasmota installs.
	EraseAll bool
	// FlashMode the image expects; Tasmota on ESP8266 uses "dout".
	FlashMode string
}

// Driver is the flashing boundary the pipeline drives. Implementations
// report progress throughout an operation and honor ctx cancellation
// between blocks; a block already handed to the chip cannot be recalled,
// so cancellation latency is one block.
type Driver interface {
	// ReadFlash copies size bytes starting at offset into the file at path.
	ReadFlash(ctx context.Context, offset, size uint32, path string, progress Progress) error

	// WriteFlash writes image to flash starting at offset.
	WriteFlash(ctx context.Context, image []byte, offset uint32, opts WriteOptions, progress Progress) error

	// Close releases the serial port.
	Close() error
}

// FatalError marks an unrecoverable bootloader condition. The pipeline
// fails the whole run on it; the device may be left mid-operation.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("esp %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(op string, err error) *FatalError {
	return &FatalError{Op: op, Err: err}
}
