// Command interview runs the interview gateway (serve) or a desktop interview client
// (live).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-interview/internal/envutil"
)

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer, serve serveDeps) *cobra.Command {
	root := &cobra.Command{
		Use:           "interview",
		Short:         "Live AI interview gateway and client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return envutil.LoadDotenv(envFile)
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newServeCmd(serve), newLiveCmd())
	return root
}

func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, serve serveDeps) int {
	root := newRootCmd(stdin, stdout, stderr, serve)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "interview: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, defaultServeDeps())
	stop()
	os.Exit(code)
}
