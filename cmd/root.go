package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"chunkup/internal/config"
	"chunkup/internal/logging"
)

var (
	cfg     *config.Config
	logger  *zap.Logger
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chunkup",
	Short: "chunkup - resumable chunked file uploads",
	Long: `chunkup uploads files in fixed-size chunks to a chunk endpoint or an
S3 bucket, resuming from what the remote side already holds.

Files are uploaded one at a time; the chunks of a file are sent
concurrently and retried on failure. Once every chunk is stored the
remote side is asked to merge them into the final file.

Usage:
  Upload files:      chunkup upload video.mp4 notes.pdf --upload-url http://host/upload
  Inspect a file:    chunkup check video.mp4

Settings can also come from $HOME/.chunkup.yaml or CHUNKUP_* variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initConfig()

		var err error
		cfg, err = config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		if used := viper.ConfigFileUsed(); used != "" {
			logger.Debug("using config file", zap.String("path", used))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chunkup.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")

	config.SetDefaults(viper.GetViper())
	config.ConfigureEnv(viper.GetViper())
	bindFlag(rootCmd.PersistentFlags().Lookup("log-level"), "log.level")
	bindFlag(rootCmd.PersistentFlags().Lookup("log-format"), "log.format")
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not find home directory: %v\n", err)
			return
		}

		// Search config in home directory with name ".chunkup" (without extension)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".chunkup")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: could not read config file: %v\n", err)
		}
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
