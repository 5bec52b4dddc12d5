package commands

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/internal/config"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/db"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/esp"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/firmware"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/pipeline"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/storage"
)

var (
	flashImage      string
	flashBackup     bool
	flashBackupSize int
	flashErase      bool
	flashBackupOnly bool
	flashAutoReset  bool
)

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Flash a Tasmota image, optionally backing up the current flash first",
	RunE:  runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVar(&flashImage, "image", "", "Firmware image: local path, http(s) URL, or s3:// URL")
	flashCmd.Flags().BoolVar(&flashBackup, "backup", false, "Back up current flash before writing")
	flashCmd.Flags().IntVar(&flashBackupSize, "backup-size", 0, "Backup size class n for 2^n MB (0=1MB .. 4=16MB)")
	flashCmd.Flags().BoolVar(&flashErase, "erase", false, "Erase the whole chip before writing")
	flashCmd.Flags().BoolVar(&flashBackupOnly, "backup-only", false, "Only back up, do not write")
	flashCmd.Flags().BoolVar(&flashAutoReset, "auto-reset", false, "Board resets itself into flash mode; skip the confirmation pause")
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	if cfg.Port == "" {
		return fmt.Errorf("no serial port selected; use --port or see 'tasmoflash ports'")
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	driver, err := esp.NewROMClient(cfg.Port, cfg.Baud)
	if err != nil {
		return errors.Wrap(err, "device init failed")
	}
	defer driver.Close()

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	ctl := pipeline.NewController()

	// First interrupt aborts the run cleanly; the deferred Close still
	// releases the port.
	go func() {
		<-ctx.Done()
		ctl.Abort()
	}()

	req := &pipeline.FlashRequest{
		Port:       cfg.Port,
		Baud:       cfg.Baud,
		Source:     flashImage,
		DoBackup:   flashBackup || flashBackupOnly,
		BackupSize: pipeline.SizeClass(flashBackupSize),
		DoErase:    flashErase,
		DoWrite:    !flashBackupOnly,
		AutoReset:  flashAutoReset,
	}

	if req.DoBackup && req.DoWrite && !req.AutoReset {
		go promptAtCheckpoint(ctl)
	}

	fetcher := storage.NewFetcher(cfg.S3Region)
	validator := firmware.NewValidator(cfg.MaxImageSize)
	machine := pipeline.NewMachine(repo, fetcher, driver, validator, ctl,
		cfg.WorkDir, cfg.BackupDir, printProgress)

	resp, outcome := machine.Run(ctx, manager, req)
	fmt.Println()

	switch outcome.Status {
	case db.StatusSucceeded:
		slog.Info("flash_succeeded", "port", cfg.Port, "backup", resp.BackupPath, "sha256", resp.SHA256)
		if req.DoWrite && req.AutoReset {
			if err := driver.Reboot(); err != nil {
				slog.Warn("reboot_failed", "error", err)
			}
		}
		fmt.Println("Done. Device flashed successfully.")
		return nil
	case db.StatusAborted:
		fmt.Println("Aborted.")
		return nil
	default:
		return outcome.Err
	}
}

// promptAtCheckpoint drives the pause between backup and write from
// stdin. The prompt only appears once the pipeline is actually waiting,
// so it does not interleave with backup progress output.
func promptAtCheckpoint(ctl *pipeline.Controller) {
	select {
	case <-ctl.Checkpoint():
	case <-ctl.Done():
		return
	}

	fmt.Println("\nBackup complete. Put the device back into flash mode,")
	fmt.Println("then press Enter to continue (or type 'abort').")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.ToLower(scanner.Text()))
		if line == "abort" || line == "a" {
			ctl.Abort()
			return
		}
		ctl.Continue()
		return
	}
}

func printProgress(fraction float64) {
	if fraction < 0 {
		return
	}
	fmt.Printf("\rprogress %3.0f%%", fraction*100)
}
