package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dronehq/chunkup/internal/uploadsdk"
	"github.com/dronehq/chunkup/internal/utils"
)

func newUploadCmd() *cobra.Command {
	var (
		chunkSize string
		mimeType  string
		workers   int
		resumeDir string
		metadata  []string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file, resuming an earlier interrupted transfer of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}

			params := &uploadsdk.UploadParams{
				FilePath:  args[0],
				MimeType:  mimeType,
				Workers:   workers,
				ResumeDir: resumeDir,
			}
			if chunkSize != "" {
				var size utils.ByteSize
				if err := size.UnmarshalText([]byte(chunkSize)); err != nil {
					return err
				}
				params.ChunkSize = size.Int64()
			}
			if params.Metadata, err = parseMetadata(metadata); err != nil {
				return err
			}

			progress := newProgressPrinter(cmd.ErrOrStderr())
			params.Callback = progress.update

			start := time.Now()
			res, err := client.UploadFile(cmd.Context(), params)
			progress.done()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (%s) in %s\n", green("uploaded"), cyan(res.FileName),
				humanize.IBytes(uint64(res.FileSize)), time.Since(start).Round(time.Millisecond))
			fmt.Fprintf(out, "%s %s\n", gray("path"), res.FinalPath)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&chunkSize, "chunk-size", "", "chunk size, e.g. 8MiB (server default when empty)")
	flags.StringVar(&mimeType, "mime", "", "mime type stored with the upload")
	flags.IntVarP(&workers, "workers", "w", 4, "parallel chunk uploads")
	flags.StringVar(&resumeDir, "resume-dir", filepath.Join(userCacheDir(), "chunkup", "resume"), "directory for resume state")
	flags.StringArrayVarP(&metadata, "meta", "m", nil, "metadata as key=value, repeatable")
	return cmd
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		meta[key] = value
	}
	return meta, nil
}

// progressPrinter redraws a single progress line, at most every 100ms.
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	last    time.Time
	printed bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) update(uploaded, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if uploaded < total && time.Since(p.last) < 100*time.Millisecond {
		return
	}
	p.last = time.Now()
	p.printed = true

	pct := float64(uploaded) / float64(total) * 100
	fmt.Fprintf(p.w, "\r%s / %s (%.1f%%)   ", humanize.IBytes(uint64(uploaded)), humanize.IBytes(uint64(total)), pct)
}

func (p *progressPrinter) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed {
		fmt.Fprintln(p.w)
	}
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
