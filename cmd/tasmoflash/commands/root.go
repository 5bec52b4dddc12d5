package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "tasmoflash",
	Short: "Tasmota device flasher for ESP8266/ESP32",
	Long:  `Flashes Tasmota firmware over serial with backup, erase, and device configuration support.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("port", "", "Serial port (e.g. /dev/ttyUSB0)")
	rootCmd.PersistentFlags().Int("baud", 115200, "Serial baud rate")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/history.db", "SQLite history database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("bins-url", "http://ota.tasmota.com", "OTA feed base URL")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region for s3:// image sources")
	rootCmd.PersistentFlags().String("work-dir", "/tmp/tasmoflash", "Working directory for downloads")
	rootCmd.PersistentFlags().String("backup-dir", ".", "Directory for flash backups")
	rootCmd.PersistentFlags().Int64("max-image-size", 16*1024*1024, "Max firmware image size in bytes")

	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("baud", rootCmd.PersistentFlags().Lookup("baud"))
	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("bins-url", rootCmd.PersistentFlags().Lookup("bins-url"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("work-dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	viper.BindPFlag("backup-dir", rootCmd.PersistentFlags().Lookup("backup-dir"))
	viper.BindPFlag("max-image-size", rootCmd.PersistentFlags().Lookup("max-image-size"))
}
