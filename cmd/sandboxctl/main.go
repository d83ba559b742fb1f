// sandboxctl uploads, runs and removes capsules on a sandboxd instance.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasm-sandbox/blockwise"
	"github.com/wippyai/wasm-sandbox/coap"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	addr    string
	timeout time.Duration
	szx     uint8
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sandboxctl",
		Short:         "Manage capsules on a CoAP wasm sandbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.szx > blockwise.MaxSZX {
				return fmt.Errorf("invalid --szx %d: must be 0..%d", opts.szx, blockwise.MaxSZX)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.addr, "addr", "a", "localhost:5683", "sandbox address (host:port)")
	cmd.PersistentFlags().Uint8Var(&opts.szx, "szx", blockwise.MaxSZX, "block size exponent (block = 2^(4+szx) bytes)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline per command")

	cmd.AddCommand(newPutCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newPingCommand(opts))
	cmd.AddCommand(newInstructionsCommand(opts))
	cmd.AddCommand(newUICommand(opts))

	return cmd
}

// connect dials the sandbox and returns a context bounded by --timeout.
func (o *rootOptions) connect(parent context.Context) (*coap.Client, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	client, err := coap.Dial(ctx, o.addr, coap.ClientOptions{BlockSZX: o.szx})
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return client, ctx, cancel, nil
}

// interactive reports whether stdout is a terminal.
func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
