package metrics

import (
	"testing"
	"time"

	"leveler/session"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		kind session.ErrorKind
		want string
	}{
		{session.KindNone, StatusSuccess},
		{session.KindCancelled, StatusCancelled},
		{session.KindTokenLimitExceeded, StatusRejected},
		{session.KindContextOverflow, StatusRejected},
		{session.KindOutOfMemory, StatusRejected},
		{session.KindModelNotLoaded, StatusRejected},
		{session.KindBusy, StatusRejected},
		{session.KindInferenceFailed, StatusError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.kind); got != tt.want {
			t.Errorf("StatusOf(%v) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestNewRecord(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stats := session.GenerationStats{
		RequestID:        "req-1",
		Tier:             session.TierMedium,
		MaxOutputTokens:  300,
		PromptTokens:     120,
		GeneratedTokens:  40,
		InputChars:       200,
		OutputChars:      150,
		StartedAt:        start,
		TimeToFirstToken: 300 * time.Millisecond,
		Duration:         2 * time.Second,
		TokensPerSecond:  22.5,
		StopReason:       session.StopEOS,
	}

	rec := NewRecord(stats)
	if rec.RequestID != "req-1" || rec.Tier != "medium" || rec.Status != StatusSuccess {
		t.Errorf("NewRecord() = %+v", rec)
	}
	if rec.Outcome != "none" || rec.StopReason != "eos" {
		t.Errorf("Outcome/StopReason = %q/%q", rec.Outcome, rec.StopReason)
	}
	if rec.StartTime != start || rec.Duration != 2*time.Second || rec.GeneratedTokens != 40 {
		t.Errorf("timings/counts not copied: %+v", rec)
	}
}

func TestTierLabel_NoPrompt(t *testing.T) {
	stats := session.GenerationStats{Outcome: session.KindOutOfMemory, StopReason: session.StopRejected}
	if got := TierLabel(stats); got != "" {
		t.Errorf("TierLabel() = %q, want empty", got)
	}
}
