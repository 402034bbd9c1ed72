// Command crashrelay records crash reports locally and relays them, with
// ad-hoc events, to Telegram, Slack, Discord and generic webhooks.
//
//	crashrelay --config crashrelay.yaml report --error "panic: nil map" --stack "$(cat trace.txt)"
//	crashrelay --config crashrelay.yaml test
//	my-app 2>&1 | to-jsonl | crashrelay --config crashrelay.yaml run
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"crashrelay/internal/app"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

func (o *rootOptions) open(ctx context.Context, initialize bool) (*app.App, error) {
	a, err := app.New(o.configPath, app.Options{Version: version, LogLevel: o.logLevel})
	if err != nil {
		return nil, err
	}
	if initialize {
		a.Initialize(ctx)
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "crashrelay",
		Short:         "Record crash reports and relay them to chat and webhook channels",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./crashrelay.yaml", "path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(
		newReportCmd(opts),
		newEventCmd(opts),
		newStartupCmd(opts),
		newTestCmd(opts),
		newStatusCmd(opts),
		newLogsCmd(opts),
		newCountCmd(opts),
		newClearCmd(opts),
		newRunCmd(opts),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "crashrelay:", err)
		cancel()
		os.Exit(1)
	}
}
