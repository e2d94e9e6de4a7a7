package session

import (
	"fmt"
	"strings"

	"leveler/llamaruntime"
)

// Tier is the input-length class that selects the instructions and the
// output cap for a request.
type Tier int

const (
	TierShort Tier = iota
	TierMedium
	TierLong
)

// Tier word-count boundaries (inclusive upper bounds).
const (
	ShortTierMaxWords  = 25
	MediumTierMaxWords = 75
)

func (t Tier) String() string {
	switch t {
	case TierShort:
		return "short"
	case TierMedium:
		return "medium"
	case TierLong:
		return "long"
	default:
		return "unknown"
	}
}

// ClassifyTier maps a word count to its tier.
func ClassifyTier(wordCount int) Tier {
	switch {
	case wordCount <= ShortTierMaxWords:
		return TierShort
	case wordCount <= MediumTierMaxWords:
		return TierMedium
	default:
		return TierLong
	}
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

type tierTemplate struct {
	system string
	user   string // %s receives the input text
}

const systemPreamble = "You are a plain-language editor. Rewrite the user's text so it is easy to read. " +
	"Use short sentences and common words. Answer with the rewritten text only."

var tierTemplates = map[Tier]tierTemplate{
	TierShort: {
		system: systemPreamble + " Keep it to one or two sentences.",
		user:   "Rewrite this in one or two short sentences:\n\n%s",
	},
	TierMedium: {
		system: systemPreamble + " Aim for a sixth-grade reading level and keep every name, number and fact.",
		user:   "Rewrite this in two or three simple sentences. Keep every name, number and fact:\n\n%s",
	},
	TierLong: {
		system: systemPreamble + " For long passages, pick out the key facts and leave out the rest.",
		user:   "Summarize the key facts of this in three or four simple sentences:\n\n%s",
	},
}

// The one demonstration pair shown to the model when there is room for it.
const (
	fewShotInput = "The municipal council has postponed implementation of the revised waste collection " +
		"schedule until further notice owing to unforeseen logistical complications with the new contractor."
	fewShotOutput = "The city council has delayed the new trash pickup schedule. The new company ran into planning problems."
)

// Fallback formatting for models without a chat template.
var fallbackStopMarkers = []string{"\nUser:", "\nSystem:"}

// echoMarkers are fragments of the instructions above. Seeing one in the
// output means the model is repeating its prompt.
var echoMarkers = []string{
	"You are a plain-language editor",
	"Answer with the rewritten text only",
	"Rewrite this in one or two short sentences:",
	"Rewrite this in two or three simple sentences.",
	"Summarize the key facts of this in",
}

// FormattedPrompt is the fully rendered prompt plus everything the
// generation loop needs to know about it.
type FormattedPrompt struct {
	Text            string
	StopMarkers     []string
	Tier            Tier
	MaxOutputTokens int
	WordCount       int
	FewShot         bool
	Templated       bool
}

// PromptBuilder selects tier instructions and renders the prompt with the
// model's chat template, or the plain-text fallback.
type PromptBuilder struct {
	model llamaruntime.Model
	cfg   Config
}

// NewPromptBuilder returns a builder for model.
func NewPromptBuilder(model llamaruntime.Model, cfg Config) *PromptBuilder {
	return &PromptBuilder{model: model, cfg: cfg}
}

// Build renders input. The few-shot pair is added only when the base prompt
// is below FewShotMaxPromptTokens and the input is longer than
// FewShotMinWords.
func (b *PromptBuilder) Build(input string) (FormattedPrompt, error) {
	words := CountWords(input)
	tier := ClassifyTier(words)
	tmpl := tierTemplates[tier]

	base := b.render(tmpl, input, false)
	fp := FormattedPrompt{
		Text:            base.Prompt,
		StopMarkers:     base.StopMarkers,
		Tier:            tier,
		MaxOutputTokens: b.cfg.TierCaps.For(tier),
		WordCount:       words,
		Templated:       base.templated,
	}

	if words <= b.cfg.FewShotMinWords {
		return fp, nil
	}
	baseTokens, err := b.model.Tokenize(base.Prompt, true)
	if err != nil {
		return FormattedPrompt{}, fmt.Errorf("%w: tokenize base prompt: %v", ErrInferenceFailed, err)
	}
	if len(baseTokens) >= b.cfg.FewShotMaxPromptTokens {
		return fp, nil
	}

	shot := b.render(tmpl, input, true)
	fp.Text = shot.Prompt
	fp.StopMarkers = shot.StopMarkers
	fp.FewShot = true
	return fp, nil
}

type renderedPrompt struct {
	llamaruntime.ChatPrompt
	templated bool
}

func (b *PromptBuilder) render(tmpl tierTemplate, input string, fewShot bool) renderedPrompt {
	messages := []llamaruntime.ChatMessage{{Role: llamaruntime.RoleSystem, Content: tmpl.system}}
	if fewShot {
		messages = append(messages,
			llamaruntime.ChatMessage{Role: llamaruntime.RoleUser, Content: fmt.Sprintf(tmpl.user, fewShotInput)},
			llamaruntime.ChatMessage{Role: llamaruntime.RoleAssistant, Content: fewShotOutput},
		)
	}
	messages = append(messages, llamaruntime.ChatMessage{Role: llamaruntime.RoleUser, Content: fmt.Sprintf(tmpl.user, input)})

	if cp, ok := b.model.ChatFormat(messages); ok {
		return renderedPrompt{ChatPrompt: cp, templated: true}
	}
	return renderedPrompt{ChatPrompt: llamaruntime.ChatPrompt{
		Prompt:      fallbackFormat(messages),
		StopMarkers: append([]string(nil), fallbackStopMarkers...),
	}}
}

// fallbackFormat renders "System: ...\n\nUser: ...\nAssistant: ..." turns
// and leaves the final assistant turn open.
func fallbackFormat(messages []llamaruntime.ChatMessage) string {
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case llamaruntime.RoleSystem:
			sb.WriteString("System: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		case llamaruntime.RoleUser:
			sb.WriteString("User: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		case llamaruntime.RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString("Assistant:")
	return sb.String()
}
