// boxdir is a command-line client for boxdir-server.
package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/boxdir/pkg/client"
)

func main() {
	var (
		server  string
		timeout time.Duration
	)
	root := &cobra.Command{
		Use:          "boxdir",
		Short:        "Browse and manage files on a boxdir server",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&server, "server", "s", envOr("BOXDIR_SERVER", "http://localhost:8080"), "server base URL")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the server to respond; transfers may run longer")

	newClient := func() *client.Client {
		return client.New(client.Config{BaseURL: server, Timeout: timeout})
	}

	root.AddCommand(
		lsCmd(newClient),
		getCmd(newClient),
		putCmd(newClient),
		mkdirCmd(newClient),
		mvCmd(newClient),
		rmCmd(newClient),
		auditCmd(newClient),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitRemote separates a remote path into its directory and entry name.
func splitRemote(p string) (dir, name string) {
	p = strings.Trim(strings.ReplaceAll(p, `\`, "/"), "/")
	dir, name = path.Split(p)
	return strings.TrimSuffix(dir, "/"), name
}

func lsCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := ""
			if len(args) == 1 {
				p = args[0]
			}
			listing, err := newClient().Browse(cmd.Context(), p)
			if err != nil {
				return err
			}
			if strings.Trim(p, "/") != listing.Path {
				fmt.Fprintf(cmd.ErrOrStderr(), "%q is not a directory; listing /%s instead\n", p, listing.Path)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range listing.Directories {
				fmt.Fprintf(tw, "%s/\t-\t\n", d.Name)
			}
			for _, f := range listing.Files {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Name, f.Size, f.Modified.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func getCmd(newClient func() *client.Client) *cobra.Command {
	var (
		output    string
		byteRange string
	)
	cmd := &cobra.Command{
		Use:   "get <remote-path>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, name := splitRemote(args[0])
			if output == "" {
				output = name
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			c := newClient()
			var n int64
			var err error
			if byteRange != "" {
				offset, length, perr := parseRange(byteRange)
				if perr != nil {
					return perr
				}
				n, err = c.DownloadRange(cmd.Context(), args[0], offset, length, w)
			} else {
				n, err = c.Download(cmd.Context(), args[0], w)
			}
			if err != nil {
				if output != "-" {
					os.Remove(output)
				}
				return err
			}
			if output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d bytes\n", output, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", `local file to create ("-" for stdout)`)
	cmd.Flags().StringVar(&byteRange, "range", "", "byte range as start-end or start-")
	return cmd
}

// parseRange reads "start-end" (inclusive) or "start-".
func parseRange(s string) (offset, length int64, err error) {
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	offset, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("invalid range start %q", startStr)
	}
	if endStr == "" {
		return offset, 0, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < offset {
		return 0, 0, fmt.Errorf("invalid range end %q", endStr)
	}
	return offset, end - offset + 1, nil
}

func putCmd(newClient func() *client.Client) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "put <local-file> [remote-dir]",
		Short: "Upload a file; never overwrites",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			dir := ""
			if len(args) == 2 {
				dir = args[1]
			}
			if name == "" {
				name = filepath.Base(args[0])
			}
			fe, err := newClient().Upload(cmd.Context(), dir, name, f)
			if err != nil {
				if client.IsConflict(err) {
					return fmt.Errorf("%s already exists on the server", path.Join(dir, name))
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%d bytes)\n", path.Join(dir, fe.Name), fe.Size)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "remote file name (defaults to the local base name)")
	return cmd
}

func mkdirCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <remote-path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, name := splitRemote(args[0])
			mr, err := newClient().CreateFolder(cmd.Context(), dir, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", mr.Path)
			return nil
		},
	}
}

func mvCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <remote-path> <new-name>",
		Short: "Rename an entry within its directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, oldName := splitRemote(args[0])
			mr, err := newClient().Rename(cmd.Context(), dir, oldName, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed to %s\n", mr.Path)
			return nil
		},
	}
}

func rmCmd(newClient func() *client.Client) *cobra.Command {
	var isDir bool
	cmd := &cobra.Command{
		Use:   "rm <remote-path>",
		Short: "Delete a file, or a directory tree with --dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, name := splitRemote(args[0])
			kind := "file"
			if isDir {
				kind = "directory"
			}
			mr, err := newClient().Delete(cmd.Context(), dir, name, kind)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("no %s named %s", kind, args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", mr.Path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&isDir, "dir", "r", false, "delete a directory and everything under it")
	return cmd
}

func auditCmd(newClient func() *client.Client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the newest entries of the server's audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newClient().Audit(cmd.Context(), limit)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("the server does not keep an audit trail")
				}
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range a.Entries {
				target := e.Path
				if e.Target != "" {
					target += " -> " + e.Target
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.Time.Local().Format(time.DateTime), e.RemoteAddr, e.Op, e.Outcome, target)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")
	return cmd
}
