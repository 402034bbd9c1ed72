package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"crashrelay/internal/app"
	"crashrelay/internal/engine"
	"crashrelay/internal/notifier"
	"crashrelay/internal/report"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	var (
		errText string
		stack   string
		where   string
		fatal   bool
		extra   []string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Store a crash report and send it to the enabled channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			x, err := parseExtraFlags(extra)
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			rs := app.Submit(cmd.Context(), a.Engine(), app.Submission{
				Type:       report.KindCrash,
				Error:      errText,
				StackTrace: stack,
				Context:    where,
				Fatal:      fatal,
				Extra:      x,
			})
			if !a.Engine().Enabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "engine disabled: crash not recorded")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "crash stored (%d in local log)\n", a.Engine().CrashCount(cmd.Context()))
			printResults(cmd.OutOrStdout(), rs)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&errText, "error", "e", "", "error message")
	f.StringVarP(&stack, "stack", "s", "", "stack trace")
	f.StringVar(&where, "context", "", "where the crash happened")
	f.BoolVar(&fatal, "fatal", false, "mark the crash as fatal")
	f.StringArrayVarP(&extra, "extra", "x", nil, "extra data as key=value (repeatable, order kept)")
	_ = cmd.MarkFlagRequired("error")
	return cmd
}

func newEventCmd(opts *rootOptions) *cobra.Command {
	var (
		message string
		where   string
		extra   []string
	)
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Send an ad-hoc event to the enabled channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			x, err := parseExtraFlags(extra)
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			rs := app.Submit(cmd.Context(), a.Engine(), app.Submission{
				Type:    report.KindEvent,
				Message: message,
				Context: where,
				Extra:   x,
			})
			printResults(cmd.OutOrStdout(), rs)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&message, "message", "m", "", "event message")
	f.StringVar(&where, "context", "", "event context")
	f.StringArrayVarP(&extra, "extra", "x", nil, "extra data as key=value (repeatable, order kept)")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newStartupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "startup",
		Short: "Announce an application start (needs notifications.send_startup_events)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()
			printResults(cmd.OutOrStdout(), a.Engine().SendAppStartup(cmd.Context(), nil))
			return nil
		},
	}
}

func newTestCmd(opts *rootOptions) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send a test message through every configured channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var kind notifier.Kind
			if channel != "" {
				k, err := parseKind(channel)
				if err != nil {
					return err
				}
				kind = k
			}
			a, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			var rs engine.Results
			if kind != "" {
				rs = engine.Results{a.Engine().TestConnection(cmd.Context(), kind)}
			} else {
				rs = a.Engine().TestAllConnections(cmd.Context())
			}
			printResults(cmd.OutOrStdout(), rs)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "only test this channel (telegram, slack, discord, webhook)")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show channel state, toggles and the local crash log size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.Status(cmd.Context())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(cmd.OutOrStdout(), st, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List locally stored crash reports, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			crashes := a.Engine().LocalCrashLogs(cmd.Context())
			if limit > 0 && len(crashes) > limit {
				crashes = crashes[len(crashes)-limit:]
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, c := range crashes {
					if err := enc.Encode(c); err != nil {
						return err
					}
				}
				return nil
			}
			printLogs(cmd.OutOrStdout(), crashes, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "only show the newest n records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON record per line")
	return cmd
}

func newCountCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of locally stored crash reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), a.Engine().CrashCount(cmd.Context()))
			return nil
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every locally stored crash report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the crash log without --yes")
			}
			a, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			n := a.Engine().CrashCount(cmd.Context())
			if err := a.Engine().ClearLocalCrashLogs(cmd.Context()); err != nil {
				return fmt.Errorf("clear crash log: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d crash records\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var noStdin bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run as a service: read JSON submissions from stdin, hot-reload config, serve metrics",
		Long: `Run keeps the relay alive until SIGINT or SIGTERM.

Each stdin line is one JSON submission:

  {"type":"crash_report","error":"boom","stack_trace":"...","fatal":true,"extra":{"user":"42"}}
  {"type":"event","message":"deploy finished"}
  {"type":"app_startup"}

The config file is watched and applied on change. When metrics.enabled is
set, /metrics and /status are served on metrics.addr. Readiness is reported
to systemd (Type=notify).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			if noStdin {
				return a.Run(cmd.Context(), nil)
			}
			return a.Run(cmd.Context(), os.Stdin)
		},
	}
	cmd.Flags().BoolVar(&noStdin, "no-stdin", false, "do not read submissions from stdin")
	return cmd
}
