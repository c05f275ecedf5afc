package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/blobfm/pkg/fsops"
	"github.com/fruitsalade/blobfm/pkg/models"
)

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "ls [path]",
		Aliases: []string{"list"},
		Short:   "List the files and directories under path",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			nodes, err := a.fs.GetItems(cmd.Context(), path)
			if err != nil {
				return err
			}
			a.out.listing(nodes)
			return nil
		},
	}
}

func newMkdirCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.Trim(args[0], models.PathSeparator)
			if path == "" {
				return fsops.ErrRootPath
			}
			if err := a.fs.CreateDirectory(cmd.Context(), models.ParentPath(path), models.BaseName(path)); err != nil {
				return err
			}
			a.out.done("created %s/", path)
			return nil
		},
	}
}

func newRemoveCommand(a *app) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm [-r] <path>",
		Short: "Delete a file, or a directory with -r",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !recursive {
				if err := a.fs.DeleteFile(cmd.Context(), args[0]); err != nil {
					return err
				}
				a.out.done("deleted %s", args[0])
				return nil
			}
			results, err := a.fs.DeleteDirectory(cmd.Context(), args[0])
			return a.out.results("deleted", results, err)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete a directory and everything under it")
	return cmd
}

func newCopyCommand(a *app) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "cp [-r] <src> <dst-dir>",
		Short: "Copy a file, or a directory with -r, into dst-dir",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.fs.CopyItem(cmd.Context(), args[0], recursive, args[1])
			return a.out.results("copied", results, err)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "copy a directory and everything under it")
	return cmd
}

func newMoveCommand(a *app) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "mv [-r] <src> <dst-dir>",
		Short: "Move a file, or a directory with -r, into dst-dir",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.fs.MoveItem(cmd.Context(), args[0], recursive, args[1])
			return a.out.results("moved", results, err)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "move a directory and everything under it")
	return cmd
}

func newRenameCommand(a *app) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rename [-r] <path> <name>",
		Short: "Rename a file, or a directory with -r, in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.Contains(args[1], models.PathSeparator) {
				return fmt.Errorf("new name %q must not contain %q", args[1], models.PathSeparator)
			}
			if !recursive {
				if err := a.fs.RenameFile(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				a.out.done("renamed %s to %s", args[0], args[1])
				return nil
			}
			results, err := a.fs.RenameDirectory(cmd.Context(), args[0], args[1])
			return a.out.results("renamed", results, err)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "rename a directory")
	return cmd
}

func newUploadCommand(a *app) *cobra.Command {
	var chunkSize int
	cmd := &cobra.Command{
		Use:   "upload <file> [dir]",
		Short: "Upload a local file into dir in chunks",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			dir := ""
			if len(args) == 2 {
				dir = strings.Trim(args[1], models.PathSeparator)
			}
			target := models.JoinPath(dir, filepath.Base(args[0]))

			n, err := a.fs.UploadFile(cmd.Context(), target, f, chunkSize)
			if err != nil {
				return err
			}
			a.out.done("uploaded %s (%s)", target, formatSize(n))
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", fsops.DefaultChunkSize, "block size in bytes")
	return cmd
}

func newDownloadCommand(a *app) *cobra.Command {
	var (
		output  string
		urlOnly bool
	)
	cmd := &cobra.Command{
		Use:   "download <path>",
		Short: "Download a file, or print its read URL with --url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			accessURL, err := a.fs.DownloadURL(ctx, args[0])
			if err != nil {
				return err
			}
			if urlOnly {
				fmt.Fprintln(cmd.OutOrStdout(), accessURL)
				return nil
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := a.gw.Fetch(ctx, accessURL, w)
			if err != nil {
				return err
			}
			if output != "" && output != "-" {
				a.out.done("downloaded %s (%s)", output, formatSize(n))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&urlOnly, "url", false, "print the read capability URL and exit")
	return cmd
}
