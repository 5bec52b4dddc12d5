package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/internal/config"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/device"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/uart"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a running Tasmota device over serial",
}

var queryComponentsCmd = &cobra.Command{
	Use:   "components",
	Short: "List the component catalog the firmware supports",
	RunE:  runQueryComponents,
}

var queryPinsCmd = &cobra.Command{
	Use:   "pins",
	Short: "Show the current GPIO assignment",
	RunE:  runQueryPins,
}

var queryIPCmd = &cobra.Command{
	Use:   "ip",
	Short: "Show the device's WiFi IP address",
	RunE:  runQueryIP,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.AddCommand(queryComponentsCmd)
	queryCmd.AddCommand(queryPinsCmd)
	queryCmd.AddCommand(queryIPCmd)
}

// openQuerier connects to a device that is running Tasmota, not the
// bootloader.
func openQuerier() (*device.Querier, *uart.Channel, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "config load failed")
	}
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("no serial port selected; use --port or see 'tasmoflash ports'")
	}

	ch, err := uart.Open(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, nil, errors.Wrap(err, "serial open failed")
	}
	return device.NewQuerier(ch), ch, nil
}

func runQueryComponents(cmd *cobra.Command, args []string) error {
	q, ch, err := openQuerier()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	catalog, err := q.Components(ctx)
	if err != nil {
		return errors.Wrap(err, "component query failed")
	}

	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Printf("%-6s %v\n", id, catalog[id])
	}
	return nil
}

func runQueryPins(cmd *cobra.Command, args []string) error {
	q, ch, err := openQuerier()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := q.ReadPinConfig(ctx)
	if err != nil {
		return errors.Wrap(err, "pin config query failed")
	}

	pins := make([]string, 0, len(cfg.GPIOs))
	for pin := range cfg.GPIOs {
		pins = append(pins, pin)
	}
	sort.Strings(pins)

	for _, pin := range pins {
		fmt.Printf("%-8s %v\n", pin, cfg.GPIOs[pin])
	}
	return nil
}

func runQueryIP(cmd *cobra.Command, args []string) error {
	q, ch, err := openQuerier()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ip, err := q.IPAddress(ctx)
	if err != nil {
		return errors.Wrap(err, "ip query failed")
	}

	fmt.Println(ip)
	return nil
}
