package dirqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/fanout/internal/queue"
)

const stateFileName = "messages.json"

// loadLedger reads a queue's state file. A missing file is an empty queue.
func loadLedger(dir string) (*queue.Ledger, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if os.IsNotExist(err) {
		return &queue.Ledger{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var l queue.Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("unmarshal queue state: %w", err)
	}
	return &l, nil
}

// saveLedger writes the state file atomically: a temp file is written and
// then renamed over the target, so readers never see a partial file.
func saveLedger(dir string, l *queue.Ledger) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal queue state: %w", err)
	}

	target := filepath.Join(dir, stateFileName)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
