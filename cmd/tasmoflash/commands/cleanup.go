package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/internal/config"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/db"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
)

var (
	cleanupDownloads bool
	cleanupKeep      int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove cached downloads and prune old session history",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDownloads, "downloads", false, "Remove cached firmware downloads")
	cleanupCmd.Flags().IntVar(&cleanupKeep, "keep", -1, "Keep only the most recent N sessions (-1 to keep all)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if !cleanupDownloads && cleanupKeep < 0 {
		return fmt.Errorf("must specify --downloads and/or --keep")
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if cleanupDownloads {
		if err := removeDownloads(cfg.WorkDir); err != nil {
			return err
		}
	}

	if cleanupKeep >= 0 {
		if err := pruneSessions(cfg.SQLitePath, cleanupKeep); err != nil {
			return err
		}
	}

	return nil
}

func removeDownloads(workDir string) error {
	downloadDir := filepath.Join(workDir, "downloads")

	entries, err := os.ReadDir(downloadDir)
	if os.IsNotExist(err) {
		fmt.Println("No cached downloads")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read download dir")
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(downloadDir, entry.Name())
		if err := os.Remove(path); err != nil {
			fmt.Printf("failed to remove %s: %v\n", entry.Name(), err)
			continue
		}
		removed++
	}

	fmt.Printf("Removed %d cached downloads\n", removed)
	return nil
}

func pruneSessions(sqlitePath string, keep int) error {
	repo, err := db.NewRepository(sqlitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	sessions, err := repo.ListSessions(0)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(sessions) <= keep {
		fmt.Printf("Nothing to prune (%d sessions)\n", len(sessions))
		return nil
	}

	pruned := 0
	for _, s := range sessions[keep:] {
		if err := repo.DeleteSession(s.ID); err != nil {
			fmt.Printf("failed to prune session %d: %v\n", s.ID, err)
			continue
		}
		pruned++
	}

	fmt.Printf("Pruned %d sessions\n", pruned)
	return nil
}
