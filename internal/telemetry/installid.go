package telemetry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// InstallID reads the stable anonymous install id from dataDir/.uuid,
// creating one on first run. Spec §6 reserves this file for telemetry
// identification; no telemetry transport is implemented here, so the id
// is only ever read back by callers that want a stable per-install tag.
func InstallID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, ".uuid")

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
