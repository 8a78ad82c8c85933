package session

// Stage is a step of the acquisition state machine or of the post-processing
// that follows it.
type Stage int

// Acquisition stages, in the only order they are ever entered.
const (
	StageFreeze Stage = iota
	StageStartStream
	StageLaunchCapture
	StageConnectChannel
	StageAwaitStopSignal
	StageSendEndToken
	StageAwaitCaptureExit
	StageStopStream

	// Post-processing stages, run after STOP_STREAM.
	StageCopyParams
	StageSplitChannels
	StageExtractSync
)

var stageNames = [...]string{
	StageFreeze:           "FREEZE",
	StageStartStream:      "START_STREAM",
	StageLaunchCapture:    "LAUNCH_CAPTURE",
	StageConnectChannel:   "CONNECT_CHANNEL",
	StageAwaitStopSignal:  "AWAIT_STOP_SIGNAL",
	StageSendEndToken:     "SEND_END_TOKEN",
	StageAwaitCaptureExit: "AWAIT_CAPTURE_EXIT",
	StageStopStream:       "STOP_STREAM",
	StageCopyParams:       "COPY_PARAMS",
	StageSplitChannels:    "SPLIT_CHANNELS",
	StageExtractSync:      "EXTRACT_SYNC",
}

// String returns the upper-case stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

// StateObserver is notified each time a run enters a stage.
type StateObserver func(runTimestamp string, stage Stage)
