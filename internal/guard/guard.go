package guard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// DefaultCooldown is the minimum spacing between runs of a guarded
// operation when the caller does not name one.
const DefaultCooldown = 5 * time.Minute

// PipelineGuard rate-limits named operations across process restarts by
// persisting the last run time per operation.
type PipelineGuard struct {
	dir      string
	cooldown time.Duration
	now      func() time.Time
}

type guardRecord struct {
	LastRunAt time.Time `json:"last_run_at"`
}

// NewPipelineGuard creates a guard storing its records under dir.
func NewPipelineGuard(dir string, cooldown time.Duration) *PipelineGuard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &PipelineGuard{dir: dir, cooldown: cooldown, now: time.Now}
}

// Allow reports whether op may run now. An unreadable or missing record
// counts as "never ran".
func (g *PipelineGuard) Allow(op string) bool {
	data, err := os.ReadFile(g.recordPath(op))
	if err != nil {
		return true
	}
	var rec guardRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return true
	}
	return g.now().Sub(rec.LastRunAt) >= g.cooldown
}

// Record marks op as having run now.
func (g *PipelineGuard) Record(op string) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(guardRecord{LastRunAt: g.now().UTC()})
	if err != nil {
		return err
	}
	return os.WriteFile(g.recordPath(op), data, 0o644)
}

// LastRun returns when op last ran, zero when it never has.
func (g *PipelineGuard) LastRun(op string) time.Time {
	data, err := os.ReadFile(g.recordPath(op))
	if err != nil {
		return time.Time{}
	}
	var rec guardRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return time.Time{}
	}
	return rec.LastRunAt
}

func (g *PipelineGuard) recordPath(op string) string {
	return filepath.Join(g.dir, op+".guard.json")
}
