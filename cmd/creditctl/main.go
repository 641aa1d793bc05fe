package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://localhost:8080"

var version = "dev"

type options struct {
	addr    string
	token   string
	jsonOut bool
}

func newRootCmd(stdout, stderr io.Writer, getenv func(string) string) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "creditctl",
		Short:         "Operate the creditgate credit approval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.addr, "addr", envOrDefault(getenv, "CREDITGATE_ADDR", defaultAddr), "creditgate API address")
	root.PersistentFlags().StringVar(&opts.token, "token", envOrDefault(getenv, "CREDITGATE_TOKEN", getenv("CREDITGATE_DEV_TOKEN")), "bearer token")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print raw JSON responses")

	root.AddCommand(requestCmd(opts))
	root.AddCommand(customersCmd(opts))
	root.AddCommand(startCmd(opts))
	root.AddCommand(approveCmd(opts))
	root.AddCommand(statusCmd(opts))
	root.AddCommand(eventsCmd(opts))
	root.AddCommand(summaryCmd(opts))
	root.AddCommand(receiptCmd(opts))
	root.AddCommand(quickRunCmd(opts))
	root.AddCommand(tokenCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "creditctl %s\n", version)
		},
	})
	return root
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	root := newRootCmd(stdout, stderr, getenv)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
	stop()
	exitFn(code)
}

var exitFn = os.Exit

func envOrDefault(getenv func(string) string, key, fallback string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return fallback
}
