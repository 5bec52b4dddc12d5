package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/device"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
)

var backlogCfg device.BacklogConfig

var sendConfigCmd = &cobra.Command{
	Use:   "send-config",
	Short: "Push WiFi, MQTT, and module settings to a running Tasmota device",
	RunE:  runSendConfig,
}

func init() {
	rootCmd.AddCommand(sendConfigCmd)
	sendConfigCmd.Flags().StringVar(&backlogCfg.WiFiSSID, "wifi-ssid", "", "WiFi network name")
	sendConfigCmd.Flags().StringVar(&backlogCfg.WiFiPassword, "wifi-password", "", "WiFi password")
	sendConfigCmd.Flags().BoolVar(&backlogCfg.RecoveryWiFi, "recovery-wifi", false, "Configure the recovery AP as second network")
	sendConfigCmd.Flags().StringVar(&backlogCfg.MQTTHost, "mqtt-host", "", "MQTT broker host")
	sendConfigCmd.Flags().IntVar(&backlogCfg.MQTTPort, "mqtt-port", device.DefaultMQTTPort, "MQTT broker port")
	sendConfigCmd.Flags().StringVar(&backlogCfg.MQTTUser, "mqtt-user", "", "MQTT username")
	sendConfigCmd.Flags().StringVar(&backlogCfg.MQTTPassword, "mqtt-password", "", "MQTT password")
	sendConfigCmd.Flags().StringVar(&backlogCfg.MQTTTopic, "mqtt-topic", "", "MQTT topic")
	sendConfigCmd.Flags().StringVar(&backlogCfg.MQTTFullTopic, "mqtt-fulltopic", "", "MQTT full topic pattern")
	sendConfigCmd.Flags().IntVar(&backlogCfg.Module, "module", 0, "Module id")
	sendConfigCmd.Flags().StringVar(&backlogCfg.Template, "template", "", "Template JSON (forces module 0)")
}

func runSendConfig(cmd *cobra.Command, args []string) error {
	backlogCfg.HasModule = cmd.Flags().Changed("module")

	if err := backlogCfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	q, ch, err := openQuerier()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := q.SendBacklog(&backlogCfg); err != nil {
		return errors.Wrap(err, "failed to send configuration")
	}

	fmt.Println("Configuration sent. The device will restart to apply it.")
	return nil
}
