// Package syncpulse recovers acquisition timing from the synchronization
// channel of a multi-channel audio recording.
//
// The capture hardware emits a short pulse on one audio channel for every
// raw image frame. The package loads that channel, rescales the signed PCM
// samples to [-1, 1), finds runs of samples above a normalized threshold and
// reports the start of every run that lasts longer than a minimum duration.
// The result is persisted as a sync sidecar next to the audio file:
//
//	0.0123	0
//	0.0456	1
//
// one line per pulse, holding the pulse time in seconds (4 decimals) and its
// zero-based sequence index.
package syncpulse
