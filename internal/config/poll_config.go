package config

import (
	"time"
)

// Poll targets
const (
	PollReplicate       = "replicate"
	PollReplicateSpeech = "replicate-tts"
	PollBFL             = "bfl"
	PollMediaImage      = "media-image"
	PollMediaVideo      = "media-video"
)

// PollConfig holds the fixed-interval polling budget for one provider flow.
type PollConfig struct {
	// Interval is the sleep between two status reads
	Interval time.Duration
	// MaxAttempts bounds the number of status reads
	MaxAttempts int
}

// Budget is the nominal duration of the attempt budget, excluding fetch time.
func (p PollConfig) Budget() time.Duration {
	return p.Interval * time.Duration(p.MaxAttempts)
}

// GetPollConfig returns the polling budget for target. Test environments
// keep the attempt counts but poll every few milliseconds.
func (c Config) GetPollConfig(target string) PollConfig {
	var pc PollConfig
	switch target {
	case PollReplicate:
		pc = PollConfig{Interval: c.ReplicatePollInterval, MaxAttempts: c.ReplicatePollAttempts}
	case PollReplicateSpeech:
		pc = PollConfig{Interval: c.ReplicatePollInterval, MaxAttempts: c.SpeechPollAttempts}
	case PollBFL:
		pc = PollConfig{Interval: c.BFLPollInterval, MaxAttempts: c.BFLPollAttempts}
	case PollMediaImage:
		pc = pollFromTimeout(c.MediaPollImageTimeout, c.MediaPollImageDelay)
	case PollMediaVideo:
		pc = pollFromTimeout(c.MediaPollVideoTimeout, c.MediaPollVideoDelay)
	default:
		pc = PollConfig{Interval: 2 * time.Second, MaxAttempts: 30}
	}
	if pc.MaxAttempts <= 0 {
		pc.MaxAttempts = 1
	}
	if c.IsTest() {
		pc.Interval = 5 * time.Millisecond
	}
	return pc
}

func pollFromTimeout(timeout, delay time.Duration) PollConfig {
	if delay <= 0 {
		delay = time.Second
	}
	n := int(timeout / delay)
	if n < 1 {
		n = 1
	}
	return PollConfig{Interval: delay, MaxAttempts: n}
}
