package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/internal/config"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/firmware"
)

var catalogDev bool

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List firmware images published on the OTA server",
	RunE:  runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().BoolVar(&catalogDev, "dev", false, "List development builds instead of releases")
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	catalog := firmware.NewCatalog(cfg.BinsURL)

	var groups []firmware.VersionGroup
	if catalogDev {
		groups, err = catalog.Development(ctx)
	} else {
		groups, err = catalog.Release(ctx)
	}
	if err != nil {
		return errors.Wrap(err, "feed fetch failed")
	}

	for _, g := range groups {
		fmt.Printf("%s\n", g.Version)
		for _, b := range g.Binaries {
			fmt.Printf("  %-32s %8d  %s\n", b.Binary, b.Filesize, b.OTAURL)
		}
	}
	return nil
}
