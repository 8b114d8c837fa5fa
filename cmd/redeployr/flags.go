package main

import "time"

// GlobalFlags holds persistent flags shared by every verb.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds the flags for the redeploy, stop and start verbs.
// Flag structs are decoupled from cobra so command logic is testable
// without a CLI.
type RunFlags struct {
	ConfigPath string
	Update     bool
	JSON       bool
	// Remote agent connection
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	ConfigPath string
	JSON       bool
	// Remote agent connection
	APIUrl     string
	APITimeout time.Duration
}

type HistoryFlags struct {
	ConfigPath string
	Limit      int
	JSON       bool
	// Remote agent connection
	APIUrl     string
	APITimeout time.Duration
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}
