package config

import (
	"fmt"
	"os"
)

// Template returns a starter config.toml for stage.
func Template(stage Stage) (string, error) {
	switch stage {
	case StageDevelopment:
		return developmentTemplate, nil
	case StageStaging, StageProduction:
		return fmt.Sprintf(remoteTemplate, stage), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
}

func WriteTemplate(path string, stage Stage, overwrite bool) error {
	template, err := Template(stage)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const developmentTemplate = `stage = "development"
api_base_url = "http://localhost:8000"
ws_base_url = "ws://localhost:8000"
auth_token = "demo-token"
user_id = ""
realtime_enabled = true
fallback_enabled = true
# fallback_content_path = "content.toml"
metrics_addr = "127.0.0.1:9464"
tracing_endpoint = ""
tracing_insecure = true

request_timeout = "10s"
handshake_timeout = "10s"
write_timeout = "5s"
session_reuse_window = "2m"
max_reconnect_attempts = 5
reconnect_base_delay = "2s"
`

const remoteTemplate = `stage = "%s"
api_base_url = "https://api.example.com"
ws_base_url = "wss://api.example.com"
auth_token = ""
realtime_enabled = true
fallback_enabled = true
metrics_addr = ""
tracing_endpoint = ""

request_timeout = "10s"
handshake_timeout = "10s"
session_reuse_window = "2m"
max_reconnect_attempts = 5
`
