package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/triage/internal/control"
	"github.com/steveyegge/triage/internal/cost"
	"github.com/steveyegge/triage/internal/pipeline"
)

// liveStatus is what the control socket reports for a running loop
type liveStatus struct {
	Runner pipeline.RunnerStatus `json:"runner"`
	Budget *cost.BudgetStats     `json:"budget,omitempty"`
}

// loopControl adapts the runner and budget to the control socket
type loopControl struct {
	runner *pipeline.Runner
	budget *cost.Tracker
}

func (c *loopControl) Pause(reason string) error { return c.runner.Pause(reason) }
func (c *loopControl) Resume() error             { return c.runner.Resume() }
func (c *loopControl) Trigger() error            { return c.runner.Trigger() }

func (c *loopControl) Status() any {
	st := liveStatus{Runner: c.runner.Status()}
	if c.budget != nil {
		stats := c.budget.Stats()
		st.Budget = &stats
	}
	return st
}

// socketPath sits next to the instance lock
func socketPath() string {
	return strings.TrimSuffix(lockPath(), ".lock") + ".sock"
}

// controlClient resolves the database location without opening it
func controlClient() (*control.Client, error) {
	if _, err := storageConfig(); err != nil {
		return nil, err
	}
	return control.NewClient(socketPath()), nil
}

func sendControl(send func(*control.Client) (*control.Response, error)) *liveStatus {
	client, err := controlClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	resp, err := send(client)
	if err != nil {
		if errors.Is(err, control.ErrNotRunning) {
			fmt.Fprintf(os.Stderr, "Error: no triage loop is running for this database (start one with 'triage run')\n")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	var st liveStatus
	if err := json.Unmarshal(resp.Data, &st); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		return nil
	}
	return &st
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running triage loop",
	Long: `Stop a running 'triage run' from starting new ticks. A tick already in
progress finishes. Use 'triage resume' to continue.`,
	Annotations: map[string]string{skipStore: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		sendControl(func(c *control.Client) (*control.Response, error) { return c.Pause(reason) })

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s Triage loop paused\n", yellow("⏸"))
	},
}

var resumeCmd = &cobra.Command{
	Use:         "resume",
	Short:       "Resume a paused triage loop",
	Annotations: map[string]string{skipStore: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		sendControl(func(c *control.Client) (*control.Response, error) { return c.Resume() })

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Triage loop resumed\n", green("✓"))
	},
}

var triggerCmd = &cobra.Command{
	Use:         "trigger",
	Short:       "Run a tick now in the running triage loop",
	Annotations: map[string]string{skipStore: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		st := sendControl(func(c *control.Client) (*control.Response, error) { return c.Trigger() })

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Tick requested\n", green("✓"))
		if st != nil && st.Runner.LastTick != nil {
			fmt.Printf("  Previous tick: %s ago\n", formatDuration(time.Since(st.Runner.LastTick.StartedAt)))
		}
	},
}

// printLiveStatus prints the running loop's state, or nothing when no loop
// is reachable
func printLiveStatus() {
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	client := control.NewClient(socketPath())
	client.SetTimeout(2 * time.Second)

	fmt.Printf("%s\n", yellow("Loop:"))
	var st liveStatus
	if err := client.Status(&st); err != nil {
		fmt.Printf("  %s\n\n", gray("not running"))
		return
	}

	r := st.Runner
	switch {
	case r.Paused:
		fmt.Printf("  %s (%s)\n", red("paused"), orDash(r.PauseReason))
	default:
		fmt.Printf("  %s, tick every %s, %d tick(s)\n", green("running"), r.Interval, r.Ticks)
	}
	if last := r.LastTick; last != nil {
		fmt.Printf("  Last tick %s ago: %d events, %d candidates, %d published (%dms)\n",
			formatDuration(time.Since(last.StartedAt)), last.Events, last.Candidates, last.Published, last.DurationMs)
		if last.Error != "" {
			fmt.Printf("  %s %s\n", red("✗"), last.Error)
		}
	}
	if b := st.Budget; b != nil {
		budgetColor := green
		if b.Status != cost.BudgetHealthy {
			budgetColor = red
		}
		fmt.Printf("  Budget %s: %s tokens ($%.2f) this window, resets in %s\n",
			budgetColor(b.Status.String()), formatNumber(int(b.HourlyTokensUsed)), b.HourlyCostUsed, formatDuration(b.ResetsIn))
	}
	fmt.Println()
}

func init() {
	pauseCmd.Flags().String("reason", "", "Why the loop is paused (shown in status)")
	rootCmd.AddCommand(pauseCmd, resumeCmd, triggerCmd)
}
