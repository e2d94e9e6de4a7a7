// Package llamaruntime provides the inference engine boundary used by the
// leveling session: loading GGUF weights, creating a runtime context,
// tokenizing, decoding batches and sampling.
//
// engine.go holds the pure Go capability interfaces. The llama.cpp
// implementation lives in bindings.go (cgo builds) and a stub in
// bindings_stub.go (nocgo builds).
package llamaruntime

// Token is a vocabulary id produced by the model's tokenizer.
type Token int32

// BatchEntry is one (token, position) pair submitted to Context.Decode.
// Logits requests output logits for this position.
type BatchEntry struct {
	Token  Token
	Pos    int
	Logits bool
}

// ChatMessage is a role-tagged message rendered by a chat template.
type ChatMessage struct {
	Role    string
	Content string
}

// Chat roles understood by llama.cpp chat templates.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatPrompt is the output of a chat template: a single prompt string and
// the stop markers that end an assistant turn for that template family.
type ChatPrompt struct {
	Prompt      string
	StopMarkers []string
}

// Engine loads models. There is one implementation per build.
type Engine interface {
	LoadModel(path string, params ModelParams) (Model, error)
}

// Model is a loaded set of weights plus vocabulary.
type Model interface {
	// NewContext creates the mutable inference state for this model.
	NewContext(params ContextParams) (Context, error)

	// Tokenize converts text to tokens. addSpecial prepends BOS where the
	// model expects it. Implementations grow their buffer and retry when
	// the first attempt is undersized.
	Tokenize(text string, addSpecial bool) ([]Token, error)

	// TokenToPiece returns the text fragment for a single token.
	TokenToPiece(tok Token) string

	// EOS returns the end-of-sequence token.
	EOS() Token

	// ChatFormat renders messages with the model's embedded chat template.
	// ok is false when the model has no usable template.
	ChatFormat(messages []ChatMessage) (prompt ChatPrompt, ok bool)

	// SizeBytes reports the size of the loaded weights.
	SizeBytes() int64

	Close()
}

// Context is the runtime state of one model (KV cache, position counter).
type Context interface {
	// Decode advances the runtime state with a batch of tokens.
	Decode(batch []BatchEntry) error

	// NewSampler builds a sampler chain bound to this context.
	NewSampler(params SamplingParams) (Sampler, error)

	// SizeBytes reports the size of the context state.
	SizeBytes() int64

	// ClearCache drops all cached positions so the next decode starts at 0.
	ClearCache()

	Close()
}

// Sampler selects tokens from the logits of the last decoded position and
// keeps the repetition-penalty history.
type Sampler interface {
	Sample() Token
	Accept(tok Token)
	Reset()
	Close()
}
