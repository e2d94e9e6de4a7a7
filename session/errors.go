package session

import "errors"

// ErrorKind classifies how a request ended.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTokenLimitExceeded
	KindContextOverflow
	KindOutOfMemory
	KindModelNotLoaded
	KindInferenceFailed
	KindCancelled
	// KindBusy marks a request rejected because another generation was in flight.
	KindBusy
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTokenLimitExceeded:
		return "token_limit_exceeded"
	case KindContextOverflow:
		return "context_overflow"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindModelNotLoaded:
		return "model_not_loaded"
	case KindInferenceFailed:
		return "inference_failed"
	case KindCancelled:
		return "cancelled"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by ModelSession. Callers match them with
// errors.Is or classify them with KindOf.
var (
	ErrTokenLimitExceeded   = errors.New("input exceeds the token limit")
	ErrContextOverflow      = errors.New("prompt does not fit the context window")
	ErrOutOfMemory          = errors.New("not enough free memory to run inference")
	ErrModelNotLoaded       = errors.New("model not loaded")
	ErrInferenceFailed      = errors.New("inference failed")
	ErrCancelled            = errors.New("generation cancelled")
	ErrGenerationInProgress = errors.New("a generation is already in progress")

	// ErrInvalidState is returned by LoadModel when the session is not Unloaded.
	ErrInvalidState = errors.New("invalid session state")
)

var kindSentinels = []struct {
	err  error
	kind ErrorKind
}{
	{ErrTokenLimitExceeded, KindTokenLimitExceeded},
	{ErrContextOverflow, KindContextOverflow},
	{ErrOutOfMemory, KindOutOfMemory},
	{ErrModelNotLoaded, KindModelNotLoaded},
	{ErrInferenceFailed, KindInferenceFailed},
	{ErrCancelled, KindCancelled},
	{ErrGenerationInProgress, KindBusy},
}

// KindOf maps an error returned by ModelSession to its ErrorKind. Unknown
// non-nil errors are reported as KindInferenceFailed.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindInferenceFailed
}

// IsRejection reports whether err was raised before any decode ran.
func IsRejection(err error) bool {
	switch KindOf(err) {
	case KindTokenLimitExceeded, KindContextOverflow, KindOutOfMemory, KindModelNotLoaded, KindBusy:
		return true
	}
	return false
}
