package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"chunkup/internal/processor"
	"chunkup/internal/storage"
	"chunkup/internal/transfer"
	"chunkup/pkg/utils"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check FILE",
	Short: "Show a file's identifier, chunk plan and resume state",
	Long: `Describe a file the way the upload command sees it: its identifier,
MIME type and chunk plan. Unless --offline is set the chunk store is asked
which chunks it already holds.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline")
		return runCheck(cmd, args[0], offline)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("offline", false, "skip the resume check")
}

func runCheck(cmd *cobra.Command, path string, offline bool) error {
	ctx, stop := createContext()
	defer stop()

	src, err := processor.NewFileService(nil, logger).Describe(path)
	if err != nil {
		return err
	}
	meta := src.Metadata()
	plan := transfer.PlanChunks(meta.Size, cfg.ChunkSize, 0)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "File:        %s\n", meta.RelativePath)
	fmt.Fprintf(out, "Identifier:  %s\n", meta.Identifier)
	fmt.Fprintf(out, "Size:        %s\n", utils.FormatFileSize(meta.Size))
	fmt.Fprintf(out, "MIME type:   %s\n", meta.MimeType)
	fmt.Fprintf(out, "Chunks:      %d x %s\n", len(plan), utils.FormatFileSize(cfg.ChunkSize))
	for _, r := range plan {
		fmt.Fprintf(out, "  #%-4d %12d - %-12d %s\n", r.Index+1, r.Start, r.End, utils.FormatFileSize(r.Size()))
	}
	if offline {
		return nil
	}

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	state, err := store.CheckResumable(ctx, storage.FileQuery{
		FileMetadata: meta,
		ChunkSize:    cfg.ChunkSize,
		TotalChunks:  len(plan),
	})
	if err != nil {
		return fmt.Errorf("resume check failed: %w", err)
	}
	printResumeState(out, state, len(plan))
	return nil
}

func printResumeState(out io.Writer, state storage.ResumeState, total int) {
	if state.SkipUpload {
		fmt.Fprintln(out, "Remote:      file already exists")
		return
	}
	skip := min(state.Skip(), total)
	if skip == total {
		fmt.Fprintf(out, "Remote:      all %d chunks stored, merge pending\n", total)
		return
	}
	fmt.Fprintf(out, "Remote:      %d of %d chunks stored, upload resumes at chunk %d\n", skip, total, skip+1)
}
