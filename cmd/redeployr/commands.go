package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/loykin/redeployr"
	"github.com/loykin/redeployr/pkg/client"
)

// newAPIClient builds a client for a remote agent.
func newAPIClient(apiURL string, timeout time.Duration) *client.Client {
	return client.New(client.Config{BaseURL: apiURL, Timeout: timeout})
}

// buildSupervisor loads the config file and assembles a supervisor with its
// history sink. The returned close function flushes the sink; it is never nil.
func buildSupervisor(configPath string) (*redeployr.Supervisor, *redeployr.Config, func(), error) {
	if configPath == "" {
		return nil, nil, nil, fmt.Errorf("config file required; use --config=config.toml or --api-url for a running agent")
	}
	cfg, err := redeployr.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	sup, done, err := supervisorFromConfig(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return sup, cfg, done, nil
}

// supervisorFromConfig assembles the supervisor and history sink from an
// already loaded config.
func supervisorFromConfig(cfg *redeployr.Config) (*redeployr.Supervisor, func(), error) {
	opts := redeployr.Options{
		Worker:   cfg.Worker,
		Steps:    cfg.Update.Steps,
		Logger:   redeployr.NewLogger(cfg.Log),
		LockWait: cfg.LockWait,
	}
	done := func() {}
	if cfg.History.DSN != "" {
		sink, err := redeployr.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("history sink: %w", err)
		}
		opts.Sinks = []redeployr.HistorySink{sink}
		done = func() {
			if c, ok := sink.(io.Closer); ok {
				_ = c.Close()
			}
		}
	}
	sup, err := redeployr.New(opts)
	if err != nil {
		done()
		return nil, nil, err
	}
	return sup, done, nil
}

func runRedeployCommand(f RunFlags) error {
	if f.APIUrl != "" {
		cl := newAPIClient(f.APIUrl, f.APITimeout)
		rep, err := cl.Redeploy(context.Background(), f.Update)
		printClientReport(rep, f.JSON)
		return err
	}

	sup, _, done, err := buildSupervisor(f.ConfigPath)
	if err != nil {
		return err
	}
	defer done()

	rep, err := sup.Redeploy(context.Background(), redeployr.RedeployOptions{Update: f.Update})
	printReport(rep, f.JSON)
	return err
}

func runStopCommand(f RunFlags) error {
	if f.APIUrl != "" {
		cl := newAPIClient(f.APIUrl, f.APITimeout)
		rep, err := cl.Stop(context.Background())
		printClientReport(rep, f.JSON)
		return err
	}

	sup, _, done, err := buildSupervisor(f.ConfigPath)
	if err != nil {
		return err
	}
	defer done()

	rep, err := sup.Stop(context.Background())
	printReport(rep, f.JSON)
	return err
}

func runStartCommand(f RunFlags) error {
	if f.APIUrl != "" {
		cl := newAPIClient(f.APIUrl, f.APITimeout)
		rep, err := cl.Start(context.Background())
		printClientReport(rep, f.JSON)
		return err
	}

	sup, _, done, err := buildSupervisor(f.ConfigPath)
	if err != nil {
		return err
	}
	defer done()

	rep, err := sup.Start(context.Background())
	printReport(rep, f.JSON)
	return err
}

func runStatusCommand(f StatusFlags) error {
	if f.APIUrl != "" {
		cl := newAPIClient(f.APIUrl, f.APITimeout)
		st, err := cl.Status(context.Background())
		if err != nil {
			return err
		}
		printStatus(redeployr.WorkerStatus(st), f.JSON)
		return nil
	}

	sup, _, done, err := buildSupervisor(f.ConfigPath)
	if err != nil {
		return err
	}
	defer done()

	printStatus(sup.Status(context.Background()), f.JSON)
	return nil
}

func runHistoryCommand(f HistoryFlags) error {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	if f.APIUrl != "" {
		cl := newAPIClient(f.APIUrl, f.APITimeout)
		events, err := cl.History(context.Background(), limit)
		if err != nil {
			return err
		}
		if f.JSON {
			printJSON(events)
			return nil
		}
		rows := make([][]string, 0, len(events))
		for _, e := range events {
			rows = append(rows, historyRow(e.OccurredAt, e.DeployID, e.Phase, e.Status, e.PID, e.Duration, e.Error))
		}
		renderHistoryTable(os.Stdout, rows)
		return nil
	}

	sup, _, done, err := buildSupervisor(f.ConfigPath)
	if err != nil {
		return err
	}
	defer done()

	events, err := sup.History(context.Background(), limit)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(events)
		return nil
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, historyRow(e.OccurredAt, e.DeployID, string(e.Phase), string(e.Status), e.PID, e.Duration, e.Error))
	}
	renderHistoryTable(os.Stdout, rows)
	return nil
}
