package kernel

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ConnectionInfo mirrors the kernel connection file handed to transports:
// the ports, transport scheme and signing key needed to reach one kernel.
type ConnectionInfo struct {
	Transport       string `json:"transport"`
	IP              string `json:"ip"`
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	ControlPort     int    `json:"control_port"`
	StdinPort       int    `json:"stdin_port"`
	HeartbeatPort   int    `json:"hb_port"`
	Key             string `json:"key"`
	SignatureScheme string `json:"signature_scheme"`
	KernelName      string `json:"kernel_name,omitempty"`
}

var connectionSchema = map[string]any{
	"type":     "object",
	"required": []any{"transport", "ip", "shell_port", "iopub_port", "control_port"},
	"properties": map[string]any{
		"transport":        map[string]any{"type": "string", "enum": []any{"tcp", "ipc"}},
		"ip":               map[string]any{"type": "string", "minLength": 1},
		"shell_port":       map[string]any{"type": "integer", "minimum": 0},
		"iopub_port":       map[string]any{"type": "integer", "minimum": 0},
		"control_port":     map[string]any{"type": "integer", "minimum": 0},
		"stdin_port":       map[string]any{"type": "integer", "minimum": 0},
		"hb_port":          map[string]any{"type": "integer", "minimum": 0},
		"key":              map[string]any{"type": "string"},
		"signature_scheme": map[string]any{"type": "string"},
		"kernel_name":      map[string]any{"type": "string"},
	},
}

// ParseConnectionInfo validates raw connection-file JSON against the schema
// and decodes it.
func ParseConnectionInfo(raw []byte) (*ConnectionInfo, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse connection file: %w", err)
	}

	schemaLoader := gojsonschema.NewGoLoader(connectionSchema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return nil, fmt.Errorf("connection file schema validation failed: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, fmt.Errorf("invalid connection file: %s", strings.Join(details, "; "))
	}

	var info ConnectionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to decode connection file: %w", err)
	}

	return &info, nil
}

// LoadConnectionFile reads and validates a connection file from disk.
func LoadConnectionFile(path string) (*ConnectionInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connection file %s: %w", path, err)
	}

	return ParseConnectionInfo(raw)
}
