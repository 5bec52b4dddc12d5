package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
)

var sendCmd = &cobra.Command{
	Use:   "send <command>...",
	Short: "Send a raw command line to a running Tasmota device",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	q, ch, err := openQuerier()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := q.Send(strings.Join(args, " ")); err != nil {
		return errors.Wrap(err, "failed to send command")
	}
	return nil
}
