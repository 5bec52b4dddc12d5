package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/internal/config"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/uart"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive serial console to the device",
	Long:  `Streams device output to stdout and sends typed lines to the device. Ctrl+C exits.`,
	RunE:  runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if cfg.Port == "" {
		return fmt.Errorf("no serial port selected; use --port or see 'tasmoflash ports'")
	}

	ch, err := uart.Open(cfg.Port, cfg.Baud)
	if err != nil {
		return errors.Wrap(err, "serial open failed")
	}
	defer ch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := ch.WriteLine(scanner.Text()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-ch.Bytes():
			if !ok {
				return nil
			}
			os.Stdout.Write(chunk)
		}
	}
}
