package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dronehq/chunkup/internal/uploadsdk"
)

func newStatusCmd() *cobra.Command {
	var showMissing bool

	cmd := &cobra.Command{
		Use:   "status <uploadId>",
		Short: "Show the progress of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}

			st, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printField(out, "id", st.UploadID)
			printField(out, "file", fmt.Sprintf("%s (%s)", cyan(st.FileName), humanize.IBytes(uint64(st.FileSize))))
			printField(out, "status", colorStatus(st.Status))
			printField(out, "chunks", fmt.Sprintf("%d/%d (%.1f%%)", st.UploadedChunks, st.TotalChunks, st.Progress))
			if st.FinalPath != "" {
				printField(out, "path", st.FinalPath)
			}

			if showMissing && st.Status != "completed" && st.Status != "cancelled" {
				missing, err := client.Missing(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printField(out, "missing", formatIndices(missing))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showMissing, "missing", false, "list chunk indices the server has not received")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <uploadId>",
		Short: "Cancel an upload and discard its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}

			if _, err := client.Cancel(cmd.Context(), args[0]); err != nil {
				if uploadsdk.HasCode(err, uploadsdk.CodeInvalidState) {
					return fmt.Errorf("upload %s is already finished: %w", args[0], err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("cancelled"), args[0])
			return nil
		},
	}
}

func printField(w io.Writer, name, value string) {
	fmt.Fprintf(w, "%s %s\n", gray(fmt.Sprintf("%-8s", name)), value)
}

func colorStatus(status string) string {
	switch status {
	case "completed":
		return green(status)
	case "cancelled":
		return red(status)
	default:
		return cyan(status)
	}
}

// formatIndices collapses sorted indices into ranges, e.g. "0-3, 7".
func formatIndices(indices []int) string {
	if len(indices) == 0 {
		return "none"
	}

	var parts []string
	start, prev := indices[0], indices[0]
	flush := func() {
		if start == prev {
			parts = append(parts, fmt.Sprint(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, i := range indices[1:] {
		if i == prev+1 {
			prev = i
			continue
		}
		flush()
		start, prev = i, i
	}
	flush()
	return strings.Join(parts, ", ")
}
