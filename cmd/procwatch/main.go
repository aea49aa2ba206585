package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/procwatch/procwatch/pkg/monitor"
	"github.com/procwatch/procwatch/pkg/system/ps"
)

type opts struct {
	configPath string
	threshold  float64
	interval   time.Duration
	top        int
	samples    int
	plain      bool

	csvPath  string
	jsonPath string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "procwatch",
		Short: "Live per-process CPU/memory monitor",
		Long: `procwatch samples every process on the host in a background loop and
renders a live table ranked by rolling-average CPU. Processes whose
average exceeds the threshold are flagged High.

Examples:
  procwatch
  procwatch --threshold 85 --interval 1s --top 20
  procwatch --samples 30 --csv history.csv`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
	}

	root.Flags().StringVarP(&o.configPath, "config", "c", "", "YAML config file")
	root.Flags().Float64VarP(&o.threshold, "threshold", "t", 0, "high-CPU threshold percent (default 70)")
	root.Flags().DurationVarP(&o.interval, "interval", "i", 0, "sampling interval, e.g. 1s, 500ms (default 2s)")
	root.Flags().IntVar(&o.top, "top", 15, "number of processes to display")
	root.Flags().IntVarP(&o.samples, "samples", "s", 0, "stop after this many refreshes (0 = run until Ctrl-C)")
	root.Flags().BoolVar(&o.plain, "plain", false, "append output instead of redrawing the screen")
	root.Flags().StringVar(&o.csvPath, "csv", "", "write system history to CSV file on exit")
	root.Flags().StringVar(&o.jsonPath, "json", "", "write system history to JSON file on exit")

	root.AddCommand(killCmd())

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func killCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill PID",
		Short: "Terminate a process (TERM, escalating to KILL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			if err := ps.NewReader().Kill(int32(pid)); err != nil {
				return err
			}
			fmt.Printf("terminated pid %d\n", pid)
			return nil
		},
	}
}

func run(o opts) error {
	cfg := &monitor.Config{}
	if o.configPath != "" {
		loaded, err := monitor.LoadConfig(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	// Flags beat the file.
	if o.threshold > 0 {
		cfg.Threshold = o.threshold
	}
	if o.interval > 0 {
		cfg.UpdateInterval = o.interval
	}

	m, err := monitor.New(cfg)
	if err != nil {
		return err
	}
	defer m.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redraw := !o.plain && term.IsTerminal(int(os.Stdout.Fd()))
	ticker := time.NewTicker(m.UpdateInterval())
	defer ticker.Stop()

	shown := 0
	for done := false; !done; {
		select {
		case <-ctx.Done():
			fmt.Println()
			slog.Info("interrupted")
			done = true

		case <-ticker.C:
			if redraw {
				fmt.Print("\033[H\033[2J")
			}
			render(os.Stdout, m, o.top)
			shown++
			if o.samples > 0 && shown >= o.samples {
				done = true
			}
		}
	}

	history := m.GetHistory()
	if o.csvPath != "" {
		if err := writeCSV(o.csvPath, history); err != nil {
			slog.Error("write csv", "err", err)
		}
	}
	if o.jsonPath != "" {
		if err := writeJSON(o.jsonPath, history); err != nil {
			slog.Error("write json", "err", err)
		}
	}
	return nil
}

func render(out *os.File, m *monitor.Monitor, top int) {
	sys := m.GetSystemStats()
	procs := m.GetProcesses()
	if top > 0 && len(procs) > top {
		procs = procs[:top]
	}

	fmt.Fprintf(out, "%s  cpu %5.1f%%  mem %5.1f%% (%s / %s)  cores %d\n\n",
		time.Now().Format("2006-01-02 15:04:05"),
		sys.CPUPercent, sys.MemoryPercent,
		sys.Memory.Used.Humanized(), sys.Memory.Total.Humanized(),
		sys.CPUCount,
	)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tUSER\tCPU%\tAVG%\tMEM%\tTHREADS\tSTATUS")
	fmt.Fprintln(tw, "---\t----\t----\t----\t----\t----\t-------\t------")
	for _, p := range procs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%.1f\t%.1f\t%d\t%s\n",
			p.PID, trim(p.Name, 24), trim(p.Username, 12),
			p.CPUPercent, p.AvgCPUPercent, p.MemoryPercent,
			p.Threads, p.Status,
		)
	}
	tw.Flush()
}

func trim(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func writeCSV(path string, points []monitor.HistoryPoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "cpu_percent", "memory_percent"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := w.Write([]string{
			p.At.Format(time.RFC3339),
			strconv.FormatFloat(p.CPUPercent, 'f', 2, 64),
			strconv.FormatFloat(p.MemoryPercent, 'f', 2, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, points []monitor.HistoryPoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(points)
}
