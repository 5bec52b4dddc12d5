package device

import (
	"strings"
	"testing"
)

func TestBacklogConfig_FullLine(t *testing.T) {
	cfg := &BacklogConfig{
		WiFiSSID:     "home",
		WiFiPassword: "hunter2",
		RecoveryWiFi: true,
		MQTTHost:     "broker.local",
		MQTTUser:     "mq",
		MQTTPassword: "secret",
		HasModule:    true,
		Module:       18,
	}

	line, err := cfg.Line()
	if err != nil {
		t.Fatalf("line build failed: %v", err)
	}

	want := "backlog ssid1 home;password1 hunter2;ssid2 Recovery;password2 a1b2c3d4;" +
		"mqtthost broker.local;mqttport 1883;mqttuser mq;mqttpassword secret;module 18"
	if line != want {
		t.Errorf("line = %q\nwant   %q", line, want)
	}
}

func TestBacklogConfig_DefaultsElided(t *testing.T) {
	cfg := &BacklogConfig{
		MQTTHost:      "broker.local",
		MQTTPort:      DefaultMQTTPort,
		MQTTTopic:     "tasmota",
		MQTTFullTopic: "%prefix%/%topic%/",
	}

	cmds := cfg.Commands()
	for _, cmd := range cmds {
		if strings.HasPrefix(cmd, "topic ") || strings.HasPrefix(cmd, "fulltopic ") {
			t.Errorf("default topic settings should be elided: %v", cmds)
		}
	}
	if cmds[1] != "mqttport 1883" {
		t.Errorf("mqttport missing or wrong: %v", cmds)
	}
}

func TestBacklogConfig_CustomTopicsKept(t *testing.T) {
	cfg := &BacklogConfig{
		MQTTHost:  "broker.local",
		MQTTTopic: "livingroom",
	}

	joined := strings.Join(cfg.Commands(), ";")
	if !strings.Contains(joined, "topic livingroom") {
		t.Errorf("custom topic lost: %s", joined)
	}
}

func TestBacklogConfig_PasswordRequiresUser(t *testing.T) {
	cfg := &BacklogConfig{
		MQTTHost:     "broker.local",
		MQTTPassword: "secret",
	}

	joined := strings.Join(cfg.Commands(), ";")
	if strings.Contains(joined, "mqttpassword") {
		t.Errorf("mqttpassword sent without mqttuser: %s", joined)
	}
}

func TestBacklogConfig_TemplateForcesModuleZero(t *testing.T) {
	cfg := &BacklogConfig{
		Template:  `{"NAME":"Generic","GPIO":[255]}`,
		HasModule: true,
		Module:    18,
	}

	cmds := cfg.Commands()
	if len(cmds) != 2 || cmds[1] != "module 0" {
		t.Errorf("template should force module 0: %v", cmds)
	}
}

func TestBacklogConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       BacklogConfig
		shouldErr bool
	}{
		{"empty", BacklogConfig{}, false},
		{"wifi complete", BacklogConfig{WiFiSSID: "a", WiFiPassword: "b"}, false},
		{"wifi missing password", BacklogConfig{WiFiSSID: "a"}, true},
		{"wifi missing ssid", BacklogConfig{WiFiPassword: "b"}, true},
		{"mqtt topic without host", BacklogConfig{MQTTTopic: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.shouldErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBacklogConfig_EmptyLineRejected(t *testing.T) {
	if _, err := (&BacklogConfig{}).Line(); err == nil {
		t.Error("expected error for empty backlog")
	}
}
