package detector

import (
	"fmt"
	"os"

	"github.com/loykin/redeployr/internal/pidfile"
)

// RecordDetector detects the worker via its PID record file. When the record
// carries a start time, the detector verifies it against the live process so
// a recycled PID is reported as dead.
type RecordDetector struct {
	Path string
}

func (d RecordDetector) Alive() (bool, error) {
	pid, meta, err := pidfile.Read(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if meta.StartUnix > 0 {
		if cur := pidfile.ProcStartUnix(pid); cur > 0 && cur != meta.StartUnix {
			return false, nil // PID reused; not our worker
		}
	}
	return PIDAlive(pid), nil
}

func (d RecordDetector) Describe() string { return "record:" + d.Path }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return PIDAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
