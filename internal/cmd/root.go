package cmd

import (
	"fmt"
	"io"

	"github.com/harrison/ultrasession/internal/config"
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for ultrasession.
// Without a subcommand it runs an acquisition session.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ultrasession",
		Short: "Ultrasound acquisition session controller",
		Long: `ultrasession runs ultrasound acquisition sessions: for every stimulus it
freezes the scanner, records synchronized audio, captures raw image data
through the ultracomm daemon and writes one timestamped run directory with
the parameter file, the stimulus, separated audio channels and a sync table.

Examples:
  ultrasession --params params.cfg --stims stims.txt --random
  ultrasession --params params.cfg --no-prompt --project-dir /data/exp1
  ultrasession sync /data/exp1/2015-03-04T101530-0800/2015-03-04T101530-0800.bpr.wav
  ultrasession meta /data/exp1 2015-03-04T101530-0800
  ultrasession catalog /data/exp1
  ultrasession report /data/exp1 --html report.html`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          exactArgs(0),
		RunE:          runSession,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ArgumentError{Msg: err.Error()}
	})

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Path to config file (default: .ultrasession/config.yaml)")
	pf.String("project-dir", "", "Directory receiving the run directories")
	pf.Bool("verbose", false, "Log every state machine stage")

	f := cmd.Flags()
	f.String("params", "", "Imaging parameter file (required)")
	f.String("stims", "", "Stimulus file, one stimulus per line")
	f.String("ultracomm", "", "Capture daemon command")
	f.Bool("random", false, "Randomize the stimulus order")
	f.Bool("no-prompt", false, "Do not wait for Enter before and after each run")
	f.String("metrics-textfile", "", "Write Prometheus metrics to this file after the session")

	cmd.AddCommand(newSyncCommand())
	cmd.AddCommand(newMetaCommand())
	cmd.AddCommand(newCatalogCommand())
	cmd.AddCommand(newReportCommand())
	cmd.AddCommand(newConfigCommand())

	return cmd
}

// Execute runs the command line and returns the process exit status: 0 on
// success or help, 2 on usage errors and 1 on runtime failures.
func Execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	c, err := root.ExecuteC()
	err = asUsageError(err)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if IsArgumentError(err) && c != nil {
			fmt.Fprint(stderr, c.UsageString())
		}
	}
	return ExitCode(err)
}

// loadConfig loads the configuration selected by --config, or
// .ultrasession/config.yaml in the working directory, and applies the
// persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var projectDirPtr, logLevelPtr *string
	if cmd.Flags().Changed("project-dir") {
		projectDir, _ := cmd.Flags().GetString("project-dir")
		projectDirPtr = &projectDir
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level := "debug"
		logLevelPtr = &level
	}
	cfg.MergeWithFlags(projectDirPtr, nil, logLevelPtr, nil)
	return cfg, nil
}
