package llamaruntime

import "strings"

// templateFamily maps a turn-opening marker that identifies a chat template
// to the markers that end an assistant turn in that template.
type templateFamily struct {
	opener string
	stops  []string
}

var templateFamilies = []templateFamily{
	{opener: "<start_of_turn>", stops: []string{"<end_of_turn>", "<start_of_turn>"}},
	{opener: "<|im_start|>", stops: []string{"<|im_end|>", "<|im_start|>"}},
	{opener: "<|start_header_id|>", stops: []string{"<|eot_id|>", "<|start_header_id|>"}},
	{opener: "<|user|>", stops: []string{"<|end|>", "<|user|>", "<|endoftext|>"}},
	{opener: "[INST]", stops: []string{"</s>", "[INST]"}},
}

// templateSample is rendered to identify a template family. Its content
// carries no markers, so caller text can never influence detection.
var templateSample = []ChatMessage{
	{Role: "system", Content: "a"},
	{Role: "user", Content: "b"},
}

// DetectTemplateStops renders a fixed conversation with render and returns
// the end-of-turn markers of the template family it belongs to. Models
// call it once and reuse the result for every prompt.
func DetectTemplateStops(render func([]ChatMessage) (string, bool)) []string {
	prompt, ok := render(templateSample)
	if !ok {
		return nil
	}
	return TemplateStopMarkers(prompt)
}

// TemplateStopMarkers returns the end-of-turn markers for the template family
// a rendered prompt belongs to, or nil when the family is not recognised.
// The prompt must not contain caller text; see DetectTemplateStops.
func TemplateStopMarkers(prompt string) []string {
	for _, fam := range templateFamilies {
		if strings.Contains(prompt, fam.opener) {
			out := make([]string, len(fam.stops))
			copy(out, fam.stops)
			return out
		}
	}
	return nil
}
