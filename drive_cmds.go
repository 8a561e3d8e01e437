package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/megaputer/pa6-go/internal/uploadjournal"
	"github.com/megaputer/pa6-go/pkg/pa6"
)

const progressThrottle = 65 * time.Millisecond

// splitRemote splits a server path into folder and name. Server folders
// use forward slashes; a bare name lives in the root folder.
func splitRemote(p string) (dir, name string, err error) {
	p = strings.TrimSuffix(p, "/")

	dir, name = path.Split(p)
	if name == "" {
		return "", "", fmt.Errorf("%w: %q does not name a file or folder", pa6.ErrInvalidArgument, p)
	}

	return strings.TrimSuffix(dir, "/"), name, nil
}

func newDriveCommand(use, short, done string, action func(d *pa6.Drive, ctx context.Context, dir, name string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <remote-path>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, name, err := splitRemote(args[0])
			if err != nil {
				return err
			}

			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				if err := action(c.Drive(), ctx, dir, name); err != nil {
					return err
				}

				cc.Statusf("%s %s\n", done, args[0])

				return nil
			})
		},
	}
}

func newMkdirCmd() *cobra.Command {
	return newDriveCommand("mkdir", "Create a folder in the server file system", "Created", (*pa6.Drive).CreateFolder)
}

func newRmCmd() *cobra.Command {
	return newDriveCommand("rm", "Delete a file from the server file system", "Deleted", (*pa6.Drive).DeleteFile)
}

func newRmdirCmd() *cobra.Command {
	return newDriveCommand("rmdir", "Delete a folder from the server file system", "Deleted", (*pa6.Drive).DeleteFolder)
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <remote-path> [local-path]",
		Short: `Download a file ("-" writes to stdout)`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, name, err := splitRemote(args[0])
			if err != nil {
				return err
			}

			local := name
			if len(args) == 2 {
				local = args[1]
			}

			return withSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				if local == "-" {
					_, err := c.Drive().Download(ctx, dir, name, cmd.OutOrStdout())
					return err
				}

				return downloadToFile(ctx, cc, c.Drive(), dir, name, local)
			})
		},
	}
}

// downloadToFile writes into a .partial file and renames it into place, so
// a failed download never leaves a truncated file under the final name.
func downloadToFile(ctx context.Context, cc *CLIContext, d *pa6.Drive, dir, name, local string) error {
	partial := local + ".partial"

	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("creating %s: %w", partial, err)
	}

	n, err := d.Download(ctx, dir, name, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(partial)
		return err
	}

	if err := os.Rename(partial, local); err != nil {
		return fmt.Errorf("renaming %s: %w", partial, err)
	}

	cc.Statusf("Downloaded %s (%s)\n", local, formatSize(n))

	return nil
}

func newUploadCmd() *cobra.Command {
	var (
		recursive bool
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "upload <local-path> [remote-folder]",
		Short: "Upload a file or folder to the server file system",
		Long: `Upload a file or folder to the server file system. Folders that
already exist are reused, so repeating an upload is safe. With --watch the
command keeps running and uploads files under a local folder whenever they
change.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]

			dest := ""
			if len(args) == 2 {
				dest = strings.TrimSuffix(args[1], "/")
			}

			if watch {
				info, err := os.Stat(source)
				if err != nil {
					return err
				}

				if !info.IsDir() {
					return fmt.Errorf("%w: --watch needs a folder", pa6.ErrInvalidArgument)
				}
			}

			return withUploadSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				d := c.Drive()
				progress := newUploadProgress(cc)
				opts := pa6.UploadOptions{Recursive: recursive, Progress: progress.update}

				err := d.Upload(ctx, source, dest, opts)
				progress.finish()

				if err != nil {
					return err
				}

				cc.Statusf("Uploaded %s\n", source)

				if !watch {
					return nil
				}

				return watchUploads(ctx, cc, d, source, dest, opts)
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "upload folder contents recursively")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep uploading files that change under the folder")

	return cmd
}

func watchUploads(ctx context.Context, cc *CLIContext, d *pa6.Drive, source, dest string, opts pa6.UploadOptions) error {
	w, err := newNotifyWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := filepath.Clean(source)

	release, err := acquireWatchLock(root)
	if err != nil {
		return err
	}
	defer release()

	u := &uploadWatcher{
		root:       root,
		remoteRoot: dest + "/" + filepath.Base(root),
		recursive:  opts.Recursive,
		settle:     watchSettle,
		logger:     cc.Logger,
		uploadFile: func(ctx context.Context, local, remoteDir string) error {
			f, err := os.Open(local)
			if err != nil {
				return err
			}
			defer f.Close()

			_, err = d.UploadFile(ctx, f, filepath.Base(local), remoteDir, nil)

			return err
		},
		uploadFolder: func(ctx context.Context, local, remoteParent string) error {
			return d.Upload(ctx, local, remoteParent, pa6.UploadOptions{Recursive: true})
		},
	}

	cc.Statusf("Watching %s for changes (Ctrl-C to stop)\n", root)

	return u.run(ctx, w)
}

// uploadProgress draws one progress bar per file on a terminal and stays
// silent otherwise.
type uploadProgress struct {
	mu      sync.Mutex
	enabled bool
	file    string
	bar     *progressbar.ProgressBar
}

func newUploadProgress(cc *CLIContext) *uploadProgress {
	return &uploadProgress{enabled: !cc.Flags.Quiet && stderrIsTerminal()}
}

func (p *uploadProgress) update(file string, uploaded, total int64) {
	if !p.enabled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if file != p.file || p.bar == nil {
		if p.bar != nil {
			_ = p.bar.Finish()
		}

		p.file = file
		p.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(filepath.Base(file)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(progressThrottle),
			progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
		)
	}

	_ = p.bar.Set64(uploaded)
}

func (p *uploadProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

func newUploadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Manage upload sessions left behind by interrupted runs",
	}

	cmd.AddCommand(newUploadsListCmd(), newUploadsSweepCmd())

	return cmd
}

func newUploadsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List journaled upload sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			j, err := cc.Journal(cmd.Context())
			if err != nil {
				return err
			}
			defer cc.closeJournal()

			entries, err := j.List(cmd.Context())
			if err != nil {
				return err
			}

			return cc.render(entries, func(w io.Writer) {
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{e.FileName, formatSize(e.Size), formatTime(e.CreatedAt), e.Endpoint})
				}

				printTable(w, []string{"FILE", "SIZE", "CREATED", "ENDPOINT"}, rows)
			})
		},
	}
}

func newUploadsSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Terminate every journaled upload session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUploadSession(cmd, func(ctx context.Context, cc *CLIContext, c *pa6.Client) error {
				j, err := cc.Journal(ctx)
				if err != nil {
					return err
				}

				res, err := j.Sweep(ctx, c.Drive())
				if renderErr := cc.render(res, func(w io.Writer) {
					fmt.Fprintf(w, "Terminated %d, already gone %d, failed %d\n", res.Terminated, res.Gone, res.Failed)
				}); renderErr != nil {
					return errors.Join(err, renderErr)
				}

				return err
			})
		},
	}
}

var _ uploadjournal.Terminator = (*pa6.Drive)(nil)
