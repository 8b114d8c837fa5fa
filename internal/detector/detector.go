package detector

// Detector is a strategy that determines if the worker is running.
// Implementations may check the PID record, a PID number, a command line
// pattern, or a custom probe command. It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the worker is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
