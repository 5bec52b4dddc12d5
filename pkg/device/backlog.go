package device

import (
	"fmt"
	"strings"
)

// Values the device ships with; matching settings are omitted from the
// backlog so the line stays short.
const (
	DefaultMQTTPort      = 1883
	defaultMQTTTopic     = "tasmota"
	defaultMQTTFullTopic = "%prefix%/%topic%/"

	recoverySSID     = "Recovery"
	recoveryPassword = "a1b2c3d4"
)

// BacklogConfig collects the settings sent to a freshly flashed device as a
// single `backlog cmd;cmd;...` line.
type BacklogConfig struct {
	WiFiSSID     string
	WiFiPassword string
	RecoveryWiFi bool

	MQTTHost         string
	MQTTPort         int
	MQTTTopic        string
	MQTTFullTopic    string
	MQTTFriendlyName string
	MQTTUser         string
	MQTTPassword     string

	// Module selects a module id; Template pastes a template string and
	// forces module 0. Template wins when both are set.
	Module    int
	HasModule bool
	Template  string
}

// Validate rejects half-filled sections the device would choke on.
func (c *BacklogConfig) Validate() error {
	if (c.WiFiSSID == "") != (c.WiFiPassword == "") {
		return fmt.Errorf("wifi details incomplete: both ssid and password are required")
	}
	if c.MQTTHost == "" && (c.MQTTTopic != "" || c.MQTTUser != "" || c.MQTTFriendlyName != "") {
		return fmt.Errorf("mqtt details incomplete: broker host is required")
	}
	return nil
}

// Commands returns the individual backlog commands in send order.
func (c *BacklogConfig) Commands() []string {
	var backlog []string

	if c.WiFiSSID != "" {
		backlog = append(backlog,
			fmt.Sprintf("ssid1 %s", c.WiFiSSID),
			fmt.Sprintf("password1 %s", c.WiFiPassword))
	}

	if c.RecoveryWiFi {
		backlog = append(backlog,
			fmt.Sprintf("ssid2 %s", recoverySSID),
			fmt.Sprintf("password2 %s", recoveryPassword))
	}

	if c.MQTTHost != "" {
		port := c.MQTTPort
		if port == 0 {
			port = DefaultMQTTPort
		}
		backlog = append(backlog,
			fmt.Sprintf("mqtthost %s", c.MQTTHost),
			fmt.Sprintf("mqttport %d", port))

		if c.MQTTTopic != "" && c.MQTTTopic != defaultMQTTTopic {
			backlog = append(backlog, fmt.Sprintf("topic %s", c.MQTTTopic))
		}
		if c.MQTTFullTopic != "" && c.MQTTFullTopic != defaultMQTTFullTopic {
			backlog = append(backlog, fmt.Sprintf("fulltopic %s", c.MQTTFullTopic))
		}
		if c.MQTTFriendlyName != "" {
			backlog = append(backlog, fmt.Sprintf("friendlyname %s", c.MQTTFriendlyName))
		}
		if c.MQTTUser != "" {
			backlog = append(backlog, fmt.Sprintf("mqttuser %s", c.MQTTUser))
			if c.MQTTPassword != "" {
				backlog = append(backlog, fmt.Sprintf("mqttpassword %s", c.MQTTPassword))
			}
		}
	}

	switch {
	case c.Template != "":
		backlog = append(backlog, fmt.Sprintf("template %s", c.Template), "module 0")
	case c.HasModule:
		backlog = append(backlog, fmt.Sprintf("module %d", c.Module))
	}

	return backlog
}

// Line renders the full backlog command line.
func (c *BacklogConfig) Line() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	cmds := c.Commands()
	if len(cmds) == 0 {
		return "", fmt.Errorf("nothing to send")
	}
	return "backlog " + strings.Join(cmds, ";"), nil
}
