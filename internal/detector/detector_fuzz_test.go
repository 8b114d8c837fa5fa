package detector

import (
	"os"
	"path/filepath"
	"testing"
)

// Fuzz RecordDetector.Alive with malformed records to ensure robustness
func FuzzRecordDetector_Alive(f *testing.F) {
	f.Add("123\n", true)
	f.Add("not-a-number\n", false)
	f.Add("\n\n{\"start_unix\":1}\n", false)
	f.Add("1\n{\"start_unix\":-9}\n", true)
	f.Fuzz(func(t *testing.T, content string, addNL bool) {
		dir := t.TempDir()
		pf := filepath.Join(dir, "fuzz.pid")
		if addNL {
			content += "\n"
		}
		_ = os.WriteFile(pf, []byte(content), 0o600)
		_, _ = (RecordDetector{Path: pf}).Alive() // Should never panic
	})
}
