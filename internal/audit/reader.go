package audit

import (
	"encoding/json"
	"fmt"
	"os"

	"vaultkit.org/internal/vault"
)

// ReadLog decodes a persisted audit log document. Writers in the field
// produce either a flat ordered array of events or an object wrapping the
// same under "items"; both shapes are accepted. Unreadable input returns
// an error, never a panic, so display layers can degrade to an empty view.
func ReadLog(data []byte) ([]vault.AuditEvent, error) {
	var flat []vault.AuditEvent
	if err := json.Unmarshal(data, &flat); err == nil {
		return flat, nil
	}

	var wrapped struct {
		Items []vault.AuditEvent `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("audit: log is neither an event array nor an items object: %w", err)
	}
	if wrapped.Items == nil {
		return nil, fmt.Errorf("audit: log object has no items array")
	}
	return wrapped.Items, nil
}

// ReadLogFile loads and decodes a persisted audit log from disk.
func ReadLogFile(path string) ([]vault.AuditEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read log file: %w", err)
	}
	return ReadLog(data)
}
