package worker

import (
	"database/sql"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/queue"
)

// External binaries the handlers shell out to.
var requiredBinaries = []string{"ffmpeg", "ffprobe", "yt-dlp"}

// MissingBinaries returns the required binaries not found on PATH.
func MissingBinaries() []string {
	var missing []string
	for _, bin := range requiredBinaries {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	return missing
}

// Bootstrap verifies the process can actually run jobs: external binaries on
// PATH and a writable temp root. Called once before Start.
func Bootstrap(tempRoot string) error {
	if missing := MissingBinaries(); len(missing) > 0 {
		return errors.Newf("required binaries not found on PATH: %v", missing)
	}
	return checkTempRoot(tempRoot)
}

func checkTempRoot(tempRoot string) error {
	if tempRoot == "" {
		return errors.New("temp root is not configured")
	}
	if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		return errors.Wrapf(err, "temp root %s is not writable", tempRoot)
	}
	probe := filepath.Join(tempRoot, ".write-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return errors.Wrapf(err, "temp root %s is not writable", tempRoot)
	}
	os.Remove(probe)
	return nil
}

// Readiness is the one-shot health report for the ready command. OK is the
// conjunction of all checks.
type Readiness struct {
	OK     bool            `json:"ok"`
	Checks map[string]bool `json:"checks"`
	Errors []string        `json:"errors,omitempty"`
}

// CheckReadiness probes binaries, database connectivity, and a queue read.
// It never returns an error; failures land in the report.
func CheckReadiness(db *sql.DB, q *queue.Queue, tempRoot string) *Readiness {
	r := &Readiness{OK: true, Checks: make(map[string]bool)}

	check := func(name string, err error) {
		if err != nil {
			r.OK = false
			r.Checks[name] = false
			r.Errors = append(r.Errors, name+": "+err.Error())
			return
		}
		r.Checks[name] = true
	}

	var binErr error
	if missing := MissingBinaries(); len(missing) > 0 {
		binErr = errors.Newf("missing %v", missing)
	}
	check("binaries", binErr)

	check("temp_root", checkTempRoot(tempRoot))
	check("database", db.Ping())

	_, queueErr := q.GetStats()
	check("queue", queueErr)

	return r
}
