package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/uart"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	RunE:  runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := uart.ListPorts()
	if err != nil {
		return errors.Wrap(err, "failed to list serial ports")
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
