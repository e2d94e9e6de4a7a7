package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"leveler/session"
)

// lastUserText returns the text of the last user message. Text parts of a
// multi-part message are joined with newlines.
func lastUserText(messages []openai.ChatCompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != openai.ChatMessageRoleUser {
			continue
		}
		if len(m.MultiContent) == 0 {
			return strings.TrimSpace(m.Content)
		}
		var parts []string
		for _, p := range m.MultiContent {
			if p.Type == openai.ChatMessagePartTypeText && p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	return ""
}

func finishReason(st session.GenerationStats) openai.FinishReason {
	if st.StopReason == session.StopLength {
		return openai.FinishReasonLength
	}
	return openai.FinishReasonStop
}

func usageOf(st session.GenerationStats) openai.Usage {
	return openai.Usage{
		PromptTokens:     st.PromptTokens,
		CompletionTokens: st.GeneratedTokens,
		TotalTokens:      st.PromptTokens + st.GeneratedTokens,
	}
}

func openAIError(status int, code, msg string) openai.ErrorResponse {
	typ := "invalid_request_error"
	switch {
	case status == http.StatusTooManyRequests:
		typ = "rate_limit_error"
	case status >= http.StatusInternalServerError:
		typ = "server_error"
	}
	return openai.ErrorResponse{Error: &openai.APIError{Code: code, Message: msg, Type: typ}}
}

func writeOpenAIError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, openAIError(status, code, msg))
}

func writeOpenAIPipelineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeOpenAIError(w, status, errorCode(err), userMessage(err))
}

// handleChatCompletions serves an OpenAI-compatible endpoint. The last user
// message is simplified; the system prompt, model name and sampling fields
// of the request are ignored because leveler owns its prompt.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeOpenAIError(w, decodeStatus(err), "invalid_request", err.Error())
		return
	}
	text := lastUserText(req.Messages)
	if text == "" {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request", "a non-empty user message is required")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.admit(ctx, text); err != nil {
		writeOpenAIPipelineError(w, err)
		return
	}
	if err := s.acquire(ctx); err != nil {
		if r.Context().Err() == nil {
			writeOpenAIPipelineError(w, err)
		}
		return
	}
	defer s.slot.release()

	id := "chatcmpl-" + middleware.GetReqID(r.Context())
	if id == "chatcmpl-" {
		id += uuid.NewString()
	}
	created := time.Now().Unix()
	model := s.modelName()

	if req.Stream {
		s.streamCompletion(ctx, w, r, &req, text, id, created, model)
		return
	}

	var out strings.Builder
	stats, err := s.sim.ProcessText(ctx, text, func(fragment string, final bool) {
		if !final {
			out.WriteString(fragment)
		}
	})
	if r.Context().Err() != nil {
		return
	}
	if err != nil {
		writeOpenAIPipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, openai.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: out.String(),
			},
			FinishReason: finishReason(stats),
		}},
		Usage: usageOf(stats),
	})
}

func (s *Server) streamCompletion(ctx context.Context, w http.ResponseWriter, r *http.Request, req *openai.ChatCompletionRequest, text, id string, created int64, model string) {
	chunk := func(delta openai.ChatCompletionStreamChoiceDelta, reason openai.FinishReason) openai.ChatCompletionStreamResponse {
		return openai.ChatCompletionStreamResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []openai.ChatCompletionStreamChoice{{Index: 0, Delta: delta, FinishReason: reason}},
		}
	}

	out := newSSEWriter(w)
	stats, err := s.sim.ProcessText(ctx, text, func(fragment string, final bool) {
		if final {
			return
		}
		delta := openai.ChatCompletionStreamChoiceDelta{Content: fragment}
		if !out.started() {
			delta.Role = openai.ChatMessageRoleAssistant
		}
		out.event(chunk(delta, ""))
	})
	if r.Context().Err() != nil {
		return
	}
	if err != nil && !out.started() {
		writeOpenAIPipelineError(w, err)
		return
	}
	if err != nil {
		out.event(openAIError(statusFor(err), errorCode(err), userMessage(err)))
		return
	}

	last := chunk(openai.ChatCompletionStreamChoiceDelta{}, finishReason(stats))
	if !out.started() {
		last.Choices[0].Delta.Role = openai.ChatMessageRoleAssistant
	}
	out.event(last)
	if req.StreamOptions != nil && req.StreamOptions.IncludeUsage {
		usage := usageOf(stats)
		final := chunk(openai.ChatCompletionStreamChoiceDelta{}, "")
		final.Choices = []openai.ChatCompletionStreamChoice{}
		final.Usage = &usage
		out.event(final)
	}
	out.done()
}

// sseWriter writes server-sent events in the OpenAI streaming format.
type sseWriter struct {
	w     http.ResponseWriter
	rc    *http.ResponseController
	wrote bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (e *sseWriter) started() bool { return e.wrote }

func (e *sseWriter) header() {
	if e.wrote {
		return
	}
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	e.w.WriteHeader(http.StatusOK)
	e.wrote = true
}

func (e *sseWriter) event(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(openAIError(http.StatusInternalServerError, "encoding", err.Error()))
	}
	e.header()
	_, _ = fmt.Fprintf(e.w, "data: %s\n\n", data)
	_ = e.rc.Flush()
}

func (e *sseWriter) done() {
	e.header()
	_, _ = fmt.Fprint(e.w, "data: [DONE]\n\n")
	_ = e.rc.Flush()
}
