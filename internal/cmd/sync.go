package cmd

import (
	"fmt"

	"github.com/harrison/ultrasession/internal/syncpulse"
	"github.com/spf13/cobra"
)

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <wav>",
		Short: "Write the sync table of an audio container",
		Long: `Detect synchronization pulses in an existing audio container and write
the <name>.sync.txt table next to it. Settings default to the sync section of
the configuration.`,
		Args: exactArgs(1),
		RunE: runSync,
	}
	cmd.Flags().Int("channel", 0, "Zero-based sync channel")
	cmd.Flags().Float64("threshold", 0, "Normalized amplitude threshold")
	cmd.Flags().Float64("min-duration", 0, "Minimum pulse duration in seconds")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	settings := syncpulse.Settings{
		Channel:     cfg.Sync.Channel,
		Threshold:   cfg.Sync.Threshold,
		MinDuration: cfg.Sync.MinDuration,
	}
	if cmd.Flags().Changed("channel") {
		settings.Channel, _ = cmd.Flags().GetInt("channel")
	}
	if cmd.Flags().Changed("threshold") {
		settings.Threshold, _ = cmd.Flags().GetFloat64("threshold")
	}
	if cmd.Flags().Changed("min-duration") {
		settings.MinDuration, _ = cmd.Flags().GetFloat64("min-duration")
	}
	if settings.Channel < 0 {
		return &ArgumentError{Msg: fmt.Sprintf("--channel must be >= 0, got %d", settings.Channel)}
	}

	res, err := syncpulse.NewExtractor(settings).Export(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s\n", res.Path)
	fmt.Fprintf(out, "Found %d synchronization pulses.\n", res.Count())
	if lo, ok := res.MinInterval.Get(); ok {
		fmt.Fprintf(out, "Frame durations range [%0.4f %0.4f].\n", lo, res.MaxInterval.Value)
	}
	return nil
}
