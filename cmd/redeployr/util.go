package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loykin/redeployr"
	"github.com/loykin/redeployr/pkg/client"
	"github.com/olekukonko/tablewriter"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// printReport renders a local run report, as JSON or as a phase table.
// A nil report (run never started, e.g. bad flags) prints nothing.
func printReport(rep *redeployr.Report, asJSON bool) {
	if rep == nil {
		return
	}
	if asJSON {
		printJSON(rep)
		return
	}
	rows := make([][]string, 0, len(rep.Phases))
	for _, p := range rep.Phases {
		rows = append(rows, []string{string(p.Phase), string(p.Status), p.Duration.Round(time.Millisecond).String(), p.Error})
	}
	renderRunTable(os.Stdout, rep.DeployID, rep.Worker, rep.PID, string(rep.Result), rows)
}

// printClientReport is printReport for reports fetched from a remote agent.
func printClientReport(rep *client.Report, asJSON bool) {
	if rep == nil {
		return
	}
	if asJSON {
		printJSON(rep)
		return
	}
	rows := make([][]string, 0, len(rep.Phases))
	for _, p := range rep.Phases {
		rows = append(rows, []string{p.Phase, p.Status, p.Duration.Round(time.Millisecond).String(), p.Error})
	}
	renderRunTable(os.Stdout, rep.DeployID, rep.Worker, rep.PID, rep.Result, rows)
}

func renderRunTable(w io.Writer, deployID, worker string, pid int, result string, rows [][]string) {
	_, _ = fmt.Fprintf(w, "deploy %s worker=%s result=%s", shortID(deployID), worker, result)
	if pid > 0 {
		_, _ = fmt.Fprintf(w, " pid=%d", pid)
	}
	_, _ = fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Phase", "Status", "Duration", "Error"})
	for _, r := range rows {
		table.Append(r)
	}
	table.Render()
}

// printStatus renders the worker status, as JSON or as a one-row table.
func printStatus(st redeployr.WorkerStatus, asJSON bool) {
	if asJSON {
		printJSON(st)
		return
	}
	renderStatusTable(os.Stdout, st)
}

func renderStatusTable(w io.Writer, st redeployr.WorkerStatus) {
	state := "stopped"
	switch {
	case st.Running:
		state = "running"
	case st.Stale:
		state = "stale record"
	}

	var pid, started, detected string
	if st.Running {
		pid = strconv.Itoa(st.PID)
		if !st.StartedAt.IsZero() {
			started = humanize.Time(st.StartedAt)
		}
		detected = st.DetectedBy
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Worker", "State", "PID", "Started", "Detected By"})
	table.Append([]string{st.Worker, state, pid, started, detected})
	table.Render()
}

// historyRow formats one deploy event for the history table.
func historyRow(at time.Time, deployID, phase, status string, pid int, d time.Duration, errMsg string) []string {
	var pidStr string
	if pid > 0 {
		pidStr = strconv.Itoa(pid)
	}
	return []string{humanize.Time(at), shortID(deployID), phase, status, pidStr, d.Round(time.Millisecond).String(), errMsg}
}

func renderHistoryTable(w io.Writer, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"When", "Deploy", "Phase", "Status", "PID", "Duration", "Error"})
	for _, r := range rows {
		table.Append(r)
	}
	table.Render()
}

// shortID trims a deploy id to its first uuid segment for table display.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
