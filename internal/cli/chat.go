package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/harun/agentenv/internal/config"
	"github.com/harun/agentenv/internal/environment"
	"github.com/harun/agentenv/internal/logger"
	"github.com/spf13/cobra"
)

var (
	chatWorkers       int
	chatNames         []string
	chatNoInteractive bool
	chatVerbose       bool
	chatNoColor       bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Start an agent session",
	Long: `Start an agent session with one or more workers.
A message given as arguments is sent to every worker. Without --no-interactive
the session then reads prompts from the terminal; with it, agentenv exits once
every job has finished.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().IntVarP(&chatWorkers, "workers", "w", 1, "number of workers")
	chatCmd.Flags().StringSliceVar(&chatNames, "names", nil, "worker names, overriding --workers")
	chatCmd.Flags().BoolVar(&chatNoInteractive, "no-interactive", false, "exit after the initial message completes")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "print worker state transitions")
	chatCmd.Flags().BoolVar(&chatNoColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	message := strings.TrimSpace(strings.Join(args, " "))
	if chatNoInteractive && message == "" {
		return errors.New("--no-interactive needs a message")
	}
	if chatWorkers < 1 {
		return fmt.Errorf("--workers must be at least 1, got %d", chatWorkers)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	log, err := logger.New(logger.Config{
		Level:          cfg.Logging.Level,
		File:           cfg.Logging.File,
		Console:        cfg.Logging.Console,
		Pretty:         cfg.Logging.Pretty,
		Redaction:      cfg.Logging.Redaction,
		RedactPatterns: cfg.Logging.RedactPatterns,
		MaxSize:        cfg.Logging.MaxSize,
		MaxAge:         cfg.Logging.MaxAge,
		Compress:       cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	zl := log.GetZerolog()
	env, err := environment.New(environment.Options{
		Config:        cfg,
		ConfigPath:    config.NewLoader(cfgFile).GetConfigPath(),
		Version:       version,
		In:            os.Stdin,
		Out:           cmd.OutOrStdout(),
		NoColor:       chatNoColor,
		Verbose:       chatVerbose,
		HandleSignals: true,
		Logger:        &zl,
	})
	if err != nil {
		return err
	}

	code, err := env.Run(cmd.Context(), environment.RunOptions{
		Workers:     chatWorkers,
		Names:       chatNames,
		Message:     message,
		Interactive: !chatNoInteractive,
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}
