package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/internal/config"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/db"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
)

var (
	historyLimit   int
	historyBackups bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past flashing sessions and backups",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Max sessions to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyBackups, "backups", false, "List recorded backups instead of sessions")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	if historyBackups {
		return listBackups(repo)
	}
	return listSessions(repo)
}

func listSessions(repo *db.Repository) error {
	sessions, err := repo.ListSessions(historyLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	fmt.Printf("%-5s %-16s %-10s %-20s %s\n", "ID", "PORT", "STATUS", "WHEN", "SOURCE")
	for _, s := range sessions {
		fmt.Printf("%-5d %-16s %-10s %-20s %s\n",
			s.ID, s.Port, s.Status, s.CreatedAt, s.Source)
		if s.ErrorMessage != "" {
			fmt.Printf("      error: %s\n", s.ErrorMessage)
		}
	}
	return nil
}

func listBackups(repo *db.Repository) error {
	backups, err := repo.ListBackups()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(backups) == 0 {
		fmt.Println("No backups found")
		return nil
	}

	fmt.Printf("%-5s %-8s %-12s %s\n", "ID", "SESSION", "SIZE", "PATH")
	for _, b := range backups {
		fmt.Printf("%-5d %-8d %-12d %s\n", b.ID, b.SessionID, b.SizeBytes, b.Path)
	}
	return nil
}
