package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-sandbox/codec"
)

func newPutCommand(opts *rootOptions) *cobra.Command {
	var pack string

	cmd := &cobra.Command{
		Use:   "put NAME FILE",
		Short: "Upload a wasm module as capsule NAME",
		Long: `Upload a wasm module block by block. The capsule replaces any previous
capsule of the same name once the last block arrives.

With --pack the module is compressed before upload; the sandbox unpacks
zstd and lz4 frames before instantiating.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := codec.ParseFormat(pack)
			if err != nil {
				return err
			}
			code, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read module: %w", err)
			}
			raw := len(code)
			if format != codec.FormatWasm {
				if code, err = codec.Pack(code, format); err != nil {
					return err
				}
			}

			client, ctx, cancel, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			res, err := client.Put(ctx, args[0], code)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s sent in %d blocks (%s module), etag %x\n",
				args[0], humanize.IBytes(uint64(len(code))), res.Blocks,
				humanize.IBytes(uint64(raw)), res.ETag)
			return nil
		},
	}
	cmd.Flags().StringVar(&pack, "pack", "wasm", "compress before upload: wasm (none), zstd, lz4")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	var asCBOR bool

	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Run capsule NAME and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			accept := message.TextPlain
			if asCBOR {
				accept = message.AppCBOR
			}
			body, err := client.Get(ctx, args[0], accept)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), body, asCBOR, interactive())
		},
	}
	cmd.Flags().BoolVar(&asCBOR, "cbor", false, "request application/cbor output")
	return cmd
}

// printOutput writes a run result. CBOR is decoded for terminals and
// passed through raw otherwise.
func printOutput(w io.Writer, body []byte, asCBOR, tty bool) error {
	if !asCBOR || !tty {
		_, err := w.Write(body)
		if err == nil && tty && len(body) > 0 && body[len(body)-1] != '\n' {
			_, err = io.WriteString(w, "\n")
		}
		return err
	}
	var v any
	if err := codec.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("decode cbor: %w", err)
	}
	_, err := fmt.Fprintf(w, "%v (%x)\n", v, body)
	return err
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Remove capsule NAME",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()
			return client.Delete(ctx, args[0])
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List capsules",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			if !long {
				names, err := client.Discover(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			entries, err := client.Directory(ctx)
			if err != nil {
				return err
			}
			return printDirectory(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show flavour, size, runs and digest")
	return cmd
}

func printDirectory(w io.Writer, entries []codec.DirectoryEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFLAVOUR\tSIZE\tRUNS\tCREATED\tDIGEST")
	for _, e := range entries {
		digest := e.Digest
		if len(digest) > 16 {
			digest = digest[:16]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Name, e.Flavour, humanize.IBytes(uint64(e.Size)), e.Runs,
			humanize.Time(e.Created), digest)
	}
	return tw.Flush()
}

func newPingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the sandbox answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			if err := client.Ping(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is alive\n", opts.addr)
			return nil
		},
	}
}

func newInstructionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "instructions",
		Short: "Print the sandbox usage hint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			text, err := client.Instructions(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
