package logger

import (
	"github.com/fatih/color"
	"github.com/harrison/ultrasession/internal/models"
)

// formatStimulus highlights the stimulus so the operator can read it at a glance.
func formatStimulus(stimulus string, colorOutput bool) string {
	if !colorOutput {
		return stimulus
	}
	return color.New(color.FgHiWhite, color.Bold, color.BgBlue).Sprintf(" %s ", stimulus)
}

func statusColor(status string) *color.Color {
	switch status {
	case models.RunProcessed:
		return color.New(color.FgGreen)
	case models.RunAcquired:
		return color.New(color.FgYellow)
	case models.RunFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}
