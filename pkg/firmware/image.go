// Package firmware knows about Tasmota firmware artifacts: the OTA feed
// catalog and the sanity checks an image must pass before it touches a
// device.
package firmware

import (
	"fmt"
	"log/slog"
)

// espImageMagic is the first byte of every valid ESP flash image.
const espImageMagic = 0xE9

// ErrNotFirmware rejects files that are not ESP flash images.
var ErrNotFirmware = fmt.Errorf("not an ESP firmware image")

// Validator checks downloaded images before flashing.
type Validator struct {
	maxImageSize int64
}

// NewValidator creates an image validator. maxImageSize guards against
// accidentally flashing an arbitrary large file.
func NewValidator(maxImageSize int64) *Validator {
	slog.Info("image_validator_init", "max_image_size_mb", maxImageSize/1024/1024)
	return &Validator{maxImageSize: maxImageSize}
}

// ValidateImage checks the magic byte and size bounds of an image.
func (v *Validator) ValidateImage(data []byte) error {
	if len(data) == 0 {
		slog.Error("image_validation_failed", "reason", "empty")
		return fmt.Errorf("%w: image is empty", ErrNotFirmware)
	}

	if data[0] != espImageMagic {
		slog.Error("image_validation_failed", "reason", "bad_magic", "first_byte", fmt.Sprintf("0x%02x", data[0]))
		return fmt.Errorf("%w: first byte 0x%02x, want 0x%02x", ErrNotFirmware, data[0], espImageMagic)
	}

	if int64(len(data)) > v.maxImageSize {
		slog.Error("image_validation_failed",
			"reason", "too_large",
			"size_mb", int64(len(data))/1024/1024,
			"max_size_mb", v.maxImageSize/1024/1024)
		return fmt.Errorf("image size %d exceeds max %d", len(data), v.maxImageSize)
	}

	slog.Info("image_validated", "size", len(data))
	return nil
}
