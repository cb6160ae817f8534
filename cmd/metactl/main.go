// Command metactl is a thin CLI front end over internal/client: each
// subcommand resolves a path against the running metadata cluster and
// prints the result, or exits non-zero on error.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dreamware/giga/internal/client"
	"github.com/dreamware/giga/internal/config"
	"github.com/dreamware/giga/internal/rpc"
	"github.com/spf13/cobra"
)

var membershipPath string

func newClient() (*client.Client, error) {
	members, err := config.LoadMembershipFile(membershipPath)
	if err != nil {
		return nil, fmt.Errorf("loading membership %s: %w", membershipPath, err)
	}
	membership := rpc.NewMembership(members.Addrs)
	pool := rpc.NewPool(membership, 3)
	return client.New(pool, len(members.Addrs), config.Default()), nil
}

func main() {
	root := &cobra.Command{
		Use:   "metactl",
		Short: "Inspect and modify a running metadata cluster",
	}
	root.PersistentFlags().StringVar(&membershipPath, "membership", "", "path to the cluster membership file")
	_ = root.MarkPersistentFlagRequired("membership")

	root.AddCommand(getattrCmd(), readdirCmd(), readfileCmd(), writefileCmd(), unlinkCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getattrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "getattr <path>",
		Short: "Print a path's stat info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			info, err := c.Resolve(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
}

func readdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readdir <path>",
		Short: "List a directory's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			info, err := c.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			names, err := c.Readdir(ctx, info.Inode)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func readfileCmd() *cobra.Command {
	var offset, length int
	cmd := &cobra.Command{
		Use:   "readfile <path>",
		Short: "Print a file's embedded data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			dirID, name, err := c.ResolveParent(ctx, args[0])
			if err != nil {
				return err
			}
			data, err := c.ReadFile(ctx, dirID, name, offset, length)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "byte offset to start reading at")
	cmd.Flags().IntVar(&length, "length", -1, "number of bytes to read (-1 for the rest of the file)")
	return cmd
}

func writefileCmd() *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "writefile <path>",
		Short: "Overwrite a file's embedded data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var data []byte
			if inputPath == "-" || inputPath == "" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(inputPath)
			}
			if err != nil {
				return err
			}

			ctx := context.Background()
			dirID, name, err := c.ResolveParent(ctx, args[0])
			if err != nil {
				return err
			}
			stat, err := c.WriteFile(ctx, dirID, name, data)
			if err != nil {
				return err
			}
			return printJSON(stat)
		},
	}
	cmd.Flags().StringVar(&inputPath, "in", "-", "file to read data from (\"-\" for stdin)")
	return cmd
}

func unlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <path>",
		Short: "Remove a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			dirID, name, err := c.ResolveParent(ctx, args[0])
			if err != nil {
				return err
			}
			return c.Unlink(ctx, dirID, name)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

