package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const configTemplate = `# Optional. Portal to upload to, default "https://siasky.net"
portal_url = "https://siasky.net"

# Optional. Portal API key, sent as the basic auth username. Leave empty for public portals.
api_key = "{{API_KEY}}"

# Optional log level, default "info"
loglevel = "info"

# Optional number of parallel uploads, default 4.
upload_workers = 4

# Optional file and directory names skipped when uploading a directory, default [".DS_Store", ".git"]
skip_patterns = [".DS_Store", ".git"]

[retry]
# Optional. Total attempts per file including the first one, default 3.
max_attempts = 3
# Optional. Delay before the first retry in milliseconds, doubled on every retry, default 500.
base_delay_ms = 500

# Settings for 'goskynet serve', a local portal for development
[portal]
bind_address = "127.0.0.1"
port = 9980
# Optional. Where uploaded files are stored, default $XDG_DATA_HOME/goskynet/portal
# data_directory = "/var/lib/goskynet"
# Optional. Require this API key from clients
# api_key = ""
`

// RenderConfig returns the commented config template with apiKey filled in.
func RenderConfig(apiKey string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(apiKey)
	return strings.Replace(configTemplate, "{{API_KEY}}", escaped, 1)
}

// GenerateConfig writes a configuration file, backing up an existing one
func GenerateConfig(configPath, apiKey string, out io.Writer) error {
	fmt.Fprintf(out, "Generating config %s\n", configPath)

	config := RenderConfig(apiKey)

	// Check if config file already exists and back it up
	if _, err := os.Stat(configPath); err == nil {
		backupPath := configPath + ".bak"
		fmt.Fprintf(out, "Backing up config %s\n", configPath)
		if err := os.Rename(configPath, backupPath); err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
	}

	// Create parent directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	fmt.Fprintf(out, "Writing %s\n", configPath)
	if err := os.WriteFile(configPath, []byte(config), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
