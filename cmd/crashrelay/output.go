package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"crashrelay/internal/app"
	"crashrelay/internal/engine"
	"crashrelay/internal/notifier"
	"crashrelay/internal/report"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// parseExtraFlags turns repeated key=value flags into ordered extra data.
func parseExtraFlags(pairs []string) (report.Extra, error) {
	var out report.Extra
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--extra %q: want key=value", p)
		}
		out = out.Add(k, v)
	}
	return out, nil
}

func parseKind(s string) (notifier.Kind, error) {
	k := notifier.Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range notifier.Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q (want telegram, slack, discord or webhook)", s)
}

func formatResult(r engine.Result) string {
	switch {
	case r.Skipped:
		return fmt.Sprintf("%s %-8s %s", faint("-"), r.Channel, faint("not configured"))
	case r.Err != nil:
		return fmt.Sprintf("%s %-8s %s", red("✗"), r.Channel, r.Err)
	default:
		return fmt.Sprintf("%s %-8s %s", green("✓"), r.Channel, faint(r.Took.Round(time.Millisecond)))
	}
}

func printResults(w io.Writer, rs engine.Results) {
	if len(rs) == 0 {
		fmt.Fprintln(w, faint("no channel notified (engine disabled, channel toggles off or send flag off)"))
		return
	}
	for _, r := range rs {
		fmt.Fprintln(w, formatResult(r))
	}
}

func onOff(b bool) string {
	if b {
		return green("on")
	}
	return faint("off")
}

func printStatus(w io.Writer, st app.Status, now time.Time) {
	fmt.Fprintf(w, "%s %s\n", bold("engine:"), onOff(st.Enabled))
	fmt.Fprintf(w, "%s %d stored", bold("crashes:"), st.Crashes)
	if st.LastCrash != nil {
		fmt.Fprintf(w, ", last %s", humanize.RelTime(st.LastCrash.CreatedAt, now, "ago", "from now"))
	}
	if st.Pending > 0 {
		fmt.Fprintf(w, ", %d pending", st.Pending)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, bold("channels:"))
	for _, k := range notifier.Kinds {
		state := faint("inactive")
		if st.Channels[k] {
			state = green("active")
		}
		fmt.Fprintf(w, "  %-8s %s\n", k, state)
	}
	n := st.Notifications
	fmt.Fprintln(w, bold("send:"))
	fmt.Fprintf(w, "  %-8s %s\n", "crashes", onOff(n.SendCrashReports))
	fmt.Fprintf(w, "  %-8s %s\n", "events", onOff(n.SendEvents))
	fmt.Fprintf(w, "  %-8s %s\n", "startup", onOff(n.SendStartupEvents))
}

func printLogs(w io.Writer, crashes []report.Crash, now time.Time) {
	if len(crashes) == 0 {
		fmt.Fprintln(w, faint("no crash records"))
		return
	}
	for _, c := range crashes {
		mark := " "
		if c.Fatal {
			mark = red("!")
		}
		msg, _, _ := strings.Cut(c.Error, "\n")
		fmt.Fprintf(w, "%s %s  %-16s %s\n", mark, faint(c.ID[:min(8, len(c.ID))]), humanize.RelTime(c.CreatedAt, now, "ago", "from now"), msg)
		if c.Context != "" {
			fmt.Fprintf(w, "    %s %s\n", faint("context:"), c.Context)
		}
	}
	fmt.Fprintf(w, "%s\n", faint(fmt.Sprintf("%d records", len(crashes))))
}
