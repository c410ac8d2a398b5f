package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawgate/pkg/gatewayclient"
)

// maxCellWidth truncates long cells (display names, ids) in tables.
const maxCellWidth = 32

func statusCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway, queue and platform account status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			c, err := flags.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			status, err := c.Status(ctx)
			if err != nil {
				return err
			}
			platforms, err := c.Platforms(ctx)
			if err != nil {
				return err
			}
			printStatus(os.Stdout, status, platforms)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func printStatus(w io.Writer, status map[string]any, platforms []gatewayclient.Platform) {
	num := func(v any) string {
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return "-"
	}
	sub := func(key, field string) string {
		m, _ := status[key].(map[string]any)
		return num(m[field])
	}

	fmt.Fprintln(w, "clawgate status")
	fmt.Fprintf(w, "  %-10s %s\n", "Protocol:", num(status["protocol"]))
	fmt.Fprintf(w, "  %-10s %ss\n", "Uptime:", num(status["uptime_sec"]))
	fmt.Fprintf(w, "  %-10s %s/%s\n", "Queue:", sub("queue", "len"), sub("queue", "cap"))
	fmt.Fprintf(w, "  %-10s %s attached, %s detached\n", "Clients:", sub("clients", "attached"), sub("clients", "detached"))
	fmt.Fprintf(w, "  %-10s %s\n", "Threads:", num(status["threads"]))
	fmt.Fprintf(w, "  %-10s %s\n", "Last seq:", num(status["last_seq"]))
	fmt.Fprintln(w)

	rows := [][]string{}
	for _, p := range platforms {
		if len(p.Accounts) == 0 {
			rows = append(rows, []string{p.DisplayName, "-", "-", "-", "-"})
			continue
		}
		for _, a := range p.Accounts {
			rows = append(rows, []string{
				p.DisplayName,
				a.AccountID,
				accountState(a),
				yesNo(a.Active),
				strconv.FormatInt(a.MessageCount, 10),
			})
		}
	}
	printTable(w, []string{"PLATFORM", "ACCOUNT", "STATE", "ACTIVE", "MESSAGES"}, rows)
}

func accountState(a gatewayclient.Account) string {
	switch {
	case a.Running:
		return "running"
	case !a.Enabled:
		return "disabled"
	case !a.Configured:
		return "unconfigured"
	}
	return "stopped"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// printTable renders rows with columns aligned by display width, so CJK
// and emoji names line up.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	cell := func(s string) string { return runewidth.Truncate(s, maxCellWidth, "…") }
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, r := range rows {
		for i := range headers {
			if i < len(r) {
				widths[i] = max(widths[i], runewidth.StringWidth(cell(r[i])))
			}
		}
	}

	line := func(cols []string) {
		parts := make([]string, len(headers))
		for i := range headers {
			v := ""
			if i < len(cols) {
				v = cell(cols[i])
			}
			parts[i] = runewidth.FillRight(v, widths[i])
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	line(headers)
	for _, r := range rows {
		line(r)
	}
}
