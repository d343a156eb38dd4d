package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chunkup/internal/app"
	"chunkup/internal/manager"
	"chunkup/internal/processor"
	"chunkup/internal/reporter"
	"chunkup/internal/ui"
)

type UploadFlags struct {
	Interactive bool
}

var uploadFlags UploadFlags

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Upload files in resumable chunks",
	Long: `Upload one or more files. For every file this will:

1. Ask the remote side which chunks it already holds
2. Upload the missing chunks concurrently, retrying failed chunks
3. Ask the remote side to merge the chunks into the final file

Files are uploaded one after another. With --interactive, commands such as
"pause ID" or "resume ID" can be typed while uploads run; "list" shows the
identifiers.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUploaderApp(cmd, args, &uploadFlags)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	flags := uploadCmd.Flags()
	flags.BoolVarP(&uploadFlags.Interactive, "interactive", "i", false, "read transfer commands from stdin")
	flags.String("dst", "", "remote folder the files are uploaded to")
	flags.Int64("chunk-size", 0, "chunk size in bytes (default 2 MiB)")
	flags.Int("concurrency", 0, "chunks of one file uploaded at the same time (default 1)")
	flags.Int("retries", 0, "upload attempts after a chunk fails (default 3)")
	flags.String("storage", "", "chunk store: http or s3 (default http)")
	flags.String("upload-url", "", "chunk upload endpoint")
	flags.String("merge-url", "", "merge endpoint")
	flags.String("check-url", "", "resume check endpoint (defaults to the upload endpoint)")
	flags.String("bucket", "", "S3 bucket for the s3 store")

	// Bind flags to viper so they override the config file and environment
	bindFlag(flags.Lookup("dst"), "uploadFolderPath")
	bindFlag(flags.Lookup("chunk-size"), "chunkSize")
	bindFlag(flags.Lookup("concurrency"), "simultaneousUploads")
	bindFlag(flags.Lookup("retries"), "maxChunkRetries")
	bindFlag(flags.Lookup("storage"), "storage")
	bindFlag(flags.Lookup("upload-url"), "uploadUrl")
	bindFlag(flags.Lookup("merge-url"), "mergeUrl")
	bindFlag(flags.Lookup("check-url"), "checkUrl")
	bindFlag(flags.Lookup("bucket"), "s3.bucket")
}

// runUploaderApp creates and runs the uploader application
func runUploaderApp(cmd *cobra.Command, paths []string, flags *UploadFlags) error {
	ctx, stop := createContext()
	defer stop()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	mgr := manager.New(cfg, store, processor.NewFileService(nil, logger), logger)
	mgr.Events().Subscribe(reporter.NewLogReporter(logger).Handle)

	board, err := newStatusBoard(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if board != nil {
		mgr.Events().Subscribe(board.Handle)
		defer func() {
			if err := board.Close(); err != nil {
				logger.Warn("failed to close status board", zap.Error(err))
			}
		}()
	}

	consoleUI := ui.NewConsoleUI(cmd.ErrOrStderr())
	opts := &app.UploadOptions{
		Paths:       paths,
		Interactive: flags.Interactive,
		Input:       os.Stdin,
	}

	uploaderApp := app.NewUploaderApp(cfg, mgr, consoleUI, logger)
	return uploaderApp.Run(ctx, opts)
}
