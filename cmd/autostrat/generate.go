package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/spf13/cobra"
)

func generateCMD() *cobra.Command {
	var (
		serverURL string
		interval  time.Duration
		timeout   time.Duration
		out       string
		save      bool
	)
	var generate = &cobra.Command{
		Use:   "generate [topic]",
		Short: "Submit a topic to a running server and wait for the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.TrimSpace(strings.Join(args, " "))
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if timeout > 0 {
				var tcancel context.CancelFunc
				ctx, tcancel = context.WithTimeout(ctx, timeout)
				defer tcancel()
			}

			c := newClient(serverURL)
			report, err := c.generate(ctx, topic, interval, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)

			if out == "" && save {
				out = reportFileName(topic)
			}
			if out != "" {
				if err := os.WriteFile(out, []byte(report), 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "report saved to %s\n", out)
			}
			return nil
		},
	}
	generate.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "autostrat server base URL")
	generate.Flags().DurationVar(&interval, "interval", 4*time.Second, "status poll interval")
	generate.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "give up after this long (0 = never)")
	generate.Flags().StringVarP(&out, "out", "o", "", "write the report to this file")
	generate.Flags().BoolVar(&save, "save", false, "write the report to strategy_report_<topic>.md")
	return generate
}

// reportFileName keeps the topic usable as a single file name in the
// current directory.
func reportFileName(topic string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == ' ' || r == '/' || r == '\\' || strings.ContainsRune(`:*?"<>|`, r):
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, topic)
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	return "strategy_report_" + name + ".md"
}

var errTaskFailed = errors.New("task failed")

func (c *client) generate(ctx context.Context, topic string, interval time.Duration, progress io.Writer) (string, error) {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	sub, err := c.submit(ctx, topic)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(progress, "task %s: %s\n", sub.TaskID, sub.Message)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for task %s: %w", sub.TaskID, ctx.Err())
		case <-ticker.C:
		}
		st, err := c.status(ctx, sub.TaskID)
		if err != nil {
			return "", err
		}
		switch st.Status {
		case "completed":
			if st.Result == nil {
				return "", nil
			}
			return *st.Result, nil
		case "failed":
			reason := ""
			if st.Result != nil {
				reason = *st.Result
			}
			return "", fmt.Errorf("%w: %s", errTaskFailed, reason)
		default:
			fmt.Fprintf(progress, "task %s: %s\n", sub.TaskID, st.Status)
		}
	}
}
