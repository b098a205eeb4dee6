package commands

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ctalign/pkg/config"
	"ctalign/pkg/filter"
)

var (
	configPath string
	debugMode  bool
	workers    int
	logFormat  string

	cfg    *config.Config
	logger *logrus.Logger
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ctalign",
		Short:         "Affine registration and masking of CT volumes",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				loaded.Processing.NumCores = workers
			}
			if cmd.Flags().Changed("log-format") {
				loaded.Output.LogFormat = logFormat
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded
			filter.Workers = cfg.Processing.NumCores
			logger = initLogger(cmd.ErrOrStderr(), debugMode, cfg.Output.Verbose, cfg.Output.LogFormat)
			logger.WithFields(logrus.Fields{
				"config":  configPath,
				"workers": cfg.Processing.NumCores,
			}).Debug("Configuration loaded")
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "ctalign.yaml", "configuration file (defaults apply when missing)")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	root.PersistentFlags().IntVar(&workers, "workers", 0, "worker goroutines (default: all CPUs)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(registerCmd(), resampleCmd(), maskCmd(), slicesCmd(), meshCmd(), configCmd())
	return root
}

// initLogger initializes the logger with appropriate level
func initLogger(out io.Writer, debug, verbose bool, format string) *logrus.Logger {
	l := logrus.New()
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	switch {
	case debug:
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		l.Debug("Debug logging enabled")
	case format == "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if !debug {
		if verbose {
			l.SetLevel(logrus.InfoLevel)
		} else {
			l.SetLevel(logrus.WarnLevel)
		}
	}
	return l
}
