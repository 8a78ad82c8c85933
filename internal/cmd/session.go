package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/harrison/ultrasession/internal/acq"
	"github.com/harrison/ultrasession/internal/config"
	"github.com/harrison/ultrasession/internal/logger"
	"github.com/harrison/ultrasession/internal/metrics"
	"github.com/harrison/ultrasession/internal/session"
	"github.com/spf13/cobra"
)

// runSession implements the root command: one acquisition per stimulus.
func runSession(cmd *cobra.Command, _ []string) error {
	params, _ := cmd.Flags().GetString("params")
	if params == "" {
		return &ArgumentError{Msg: "--params is required"}
	}
	stims, _ := cmd.Flags().GetString("stims")
	randomize, _ := cmd.Flags().GetBool("random")
	noPrompt, _ := cmd.Flags().GetBool("no-prompt")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	var ultracommPtr, textfilePtr *string
	if cmd.Flags().Changed("ultracomm") {
		ultracomm, _ := cmd.Flags().GetString("ultracomm")
		ultracommPtr = &ultracomm
	}
	if cmd.Flags().Changed("metrics-textfile") {
		textfile, _ := cmd.Flags().GetString("metrics-textfile")
		textfilePtr = &textfile
	}
	cfg.MergeWithFlags(nil, ultracommPtr, nil, textfilePtr)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	stimuli, err := session.ReadStimuli(stims)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	console := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)
	fileLog, err := logger.NewFileLogger(cfg.ResolvePath(cfg.LogDir), cfg.LogLevel, sessionID)
	if err != nil {
		console.LogWarn(fmt.Sprintf("File logging disabled: %v", err))
	} else {
		defer fileLog.Close()
	}
	var sinks []logger.Sink
	sinks = append(sinks, console)
	if fileLog != nil {
		sinks = append(sinks, fileLog)
	}
	log := logger.NewMultiLogger(sinks...)

	mgr := metrics.NewManager()
	options := []session.Option{
		session.WithLogger(log),
		session.WithMetrics(mgr),
		session.WithSessionID(sessionID),
		session.WithPrompter(session.NewLinePrompter(cmd.InOrStdin(), cmd.OutOrStdout())),
	}

	if cfg.Catalog.Enabled {
		store, ix, err := openCatalog(cfg, cfg.ProjectDir, "")
		if err != nil {
			log.LogWarn(fmt.Sprintf("Run catalog disabled: %v", err))
		} else {
			defer store.Close()
			ix.OnIndex(func(_ string, sum *acq.Summary) {
				if hz, ok := sum.FrameRate.Get(); ok {
					mgr.SetFrameRate(hz)
				}
			})
			options = append(options, session.WithIndexer(ix))
		}
	}

	ctrl, err := session.NewController(cfg, session.Options{
		ParamsFile: params,
		Randomize:  randomize,
		Prompt:     !noPrompt,
	}, options...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := ctrl.Run(ctx, stimuli)
	if runErr != nil {
		reportRunError(log, cfg, runErr)
	}
	if result != nil {
		mgr.RecordSession(*result)
	}
	if cfg.MetricsTextfile != "" {
		if err := mgr.WriteTextfile(cfg.ResolvePath(cfg.MetricsTextfile)); err != nil {
			log.LogWarn(err.Error())
		}
	}
	return runErr
}

// reportRunError logs where a session failed and what to check next. The
// error itself is printed by Execute.
func reportRunError(log logger.Sink, cfg *config.Config, err error) {
	if stage, ok := session.FailedStage(err); ok {
		log.LogError(fmt.Sprintf("Failed stage: %s", stage))
	}
	var te *session.ExternalToolError
	if errors.As(err, &te) {
		log.LogError(fmt.Sprintf("Command: %s", te.CommandLine()))
	}
	if session.IsConnectionTimeoutError(err) {
		log.LogError(fmt.Sprintf("Is %s running and listening on %s?", cfg.Ultracomm, cfg.ControlSocket))
	}
}
