package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/harrison/ultrasession/internal/models"
)

// acquire runs the acquisition state machine for run:
// FREEZE, START_STREAM, LAUNCH_CAPTURE, CONNECT_CHANNEL, AWAIT_STOP_SIGNAL,
// SEND_END_TOKEN, AWAIT_CAPTURE_EXIT, STOP_STREAM.
//
// ctx is honored up to LAUNCH_CAPTURE. After that the run always ends through
// the END token; a cancelled stop prompt counts as the operator's stop. The
// recorder and control channel are released on every path, and a capture
// daemon still running after a failure is killed.
func (c *Controller) acquire(ctx context.Context, run *models.Run) (err error) {
	var (
		rec  Recorder
		proc Process
		conn io.WriteCloser
	)
	clock := c.stageClock(run.Timestamp)
	fail := func(e error) error {
		return c.stageError(run, clock.current, e)
	}

	defer func() {
		clock.finish()
		if conn != nil {
			conn.Close()
		}
		if proc != nil {
			if exited, _ := proc.Poll(); !exited {
				c.logger.LogWarn(fmt.Sprintf("killing %s after failed acquisition", c.opts.CaptureCommand))
				proc.Kill()
				proc.Wait()
			}
		}
		if rec != nil {
			if cerr := rec.Close(); cerr != nil {
				c.logger.LogWarn(fmt.Sprintf("recorder cleanup: %v", cerr))
			}
		}
	}()

	clock.enter(StageFreeze)
	if err := c.runner.Run(ctx, c.opts.CaptureCommand, "--params", c.opts.ParamsFile, "--freeze-only"); err != nil {
		return fail(err)
	}

	clock.enter(StageStartStream)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	rec = c.newRecorder()
	if err := rec.Start(run.AudioFile); err != nil {
		return fail(fmt.Errorf("start recorder: %w", err))
	}

	clock.enter(StageLaunchCapture)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	proc, err = c.runner.Start(c.opts.CaptureCommand,
		"--params", c.opts.ParamsFile, "--output", run.ImageFile, "--named-pipe")
	if err != nil {
		return fail(err)
	}

	clock.enter(StageConnectChannel)
	conn, err = ConnectWithRetry(c.dialer, c.cfg.Connect.Interval, c.cfg.Connect.Timeout)
	if err != nil {
		return fail(err)
	}

	clock.enter(StageAwaitStopSignal)
	if c.opts.Prompt {
		if perr := c.prompter.Prompt(ctx, PromptStopRun); perr != nil {
			c.logger.LogWarn(fmt.Sprintf("stop prompt ended early (%v); ending capture and keeping data", perr))
		}
	}

	clock.enter(StageSendEndToken)
	if err := SendEnd(conn); err != nil {
		return fail(err)
	}
	conn.Close()
	conn = nil

	clock.enter(StageAwaitCaptureExit)
	if err := c.awaitExit(proc); err != nil {
		return fail(err)
	}
	proc = nil

	clock.enter(StageStopStream)
	stopErr := rec.Stop()
	closeErr := rec.Close()
	rec = nil
	if stopErr != nil {
		return fail(fmt.Errorf("stop recorder: %w", stopErr))
	}
	if closeErr != nil {
		return fail(fmt.Errorf("close recorder: %w", closeErr))
	}
	return nil
}

// awaitExit polls proc until it exits. There is no upper bound; the daemon
// exits on its own once it has flushed the capture after END.
func (c *Controller) awaitExit(proc Process) error {
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if exited, err := proc.Poll(); exited {
			return err
		}
		<-ticker.C
	}
}
