package textinput

import (
	"errors"

	"leveler/session"
)

// User-facing messages shown instead of raw errors.
const (
	MessageTextTooLong = "Please select a smaller amount of text for this version."
	MessageOutOfMemory = "Not enough memory to process this text."
	MessageBusy        = "Another text is being simplified. Please wait and try again."
	MessageNoText      = "There is no text to simplify."
	MessageGeneric     = "An error occurred. Please try again."
)

// UserMessage maps a pipeline error to the short message shown to the user.
// A nil error or a cancellation returns "".
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrTextTooLong):
		return MessageTextTooLong
	case errors.Is(err, ErrNoText), errors.Is(err, ErrNoPDFContent):
		return MessageNoText
	}
	switch session.KindOf(err) {
	case session.KindTokenLimitExceeded, session.KindContextOverflow:
		return MessageTextTooLong
	case session.KindOutOfMemory:
		return MessageOutOfMemory
	case session.KindBusy:
		return MessageBusy
	case session.KindCancelled:
		return ""
	}
	return MessageGeneric
}
