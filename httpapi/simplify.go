package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"leveler/diagnostics"
	"leveler/metrics"
	"leveler/session"
	"leveler/textinput"
)

// SimplifyRequest is the body of POST /v1/simplify.
type SimplifyRequest struct {
	Text string `json:"text"`
}

// StreamLine is one NDJSON line of a simplify stream. The last line has
// Final set and carries Stats, plus Error when the generation failed after
// output had started.
type StreamLine struct {
	Fragment string        `json:"fragment"`
	Final    bool          `json:"final"`
	Stats    *StatsPayload `json:"stats,omitempty"`
	Error    string        `json:"error,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// StatsPayload is the wire form of session.GenerationStats.
type StatsPayload struct {
	RequestID          string  `json:"request_id"`
	Tier               string  `json:"tier,omitempty"`
	FewShot            bool    `json:"few_shot"`
	InputWords         int     `json:"input_words"`
	InputTokens        int     `json:"input_tokens"`
	PromptTokens       int     `json:"prompt_tokens"`
	GeneratedTokens    int     `json:"generated_tokens"`
	MaxOutputTokens    int     `json:"max_output_tokens"`
	TimeToFirstTokenMS int64   `json:"time_to_first_token_ms"`
	DurationMS         int64   `json:"duration_ms"`
	TokensPerSecond    float64 `json:"tokens_per_second"`
	StopReason         string  `json:"stop_reason"`
	Outcome            string  `json:"outcome"`
}

func newStatsPayload(st session.GenerationStats) *StatsPayload {
	return &StatsPayload{
		RequestID:          st.RequestID,
		Tier:               metrics.TierLabel(st),
		FewShot:            st.FewShot,
		InputWords:         st.InputWords,
		InputTokens:        st.InputTokens,
		PromptTokens:       st.PromptTokens,
		GeneratedTokens:    st.GeneratedTokens,
		MaxOutputTokens:    st.MaxOutputTokens,
		TimeToFirstTokenMS: st.TimeToFirstToken.Milliseconds(),
		DurationMS:         st.Duration.Milliseconds(),
		TokensPerSecond:    st.TokensPerSecond,
		StopReason:         string(st.StopReason),
		Outcome:            st.Outcome.String(),
	}
}

var errUnsupportedMediaType = errors.New("content type must be application/json")

// decodeJSON reads a size-limited JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(ct, "application/json") {
		return errUnsupportedMediaType
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func decodeStatus(err error) int {
	if errors.Is(err, errUnsupportedMediaType) {
		return http.StatusUnsupportedMediaType
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// admit applies the checks that run before a request may queue for the slot.
func (s *Server) admit(ctx context.Context, text string) error {
	if _, err := s.guard.Check(text); err != nil {
		if errors.Is(err, textinput.ErrTextTooLong) && s.cfg.Diagnostics != nil {
			if derr := s.cfg.Diagnostics.RecordError(ctx, diagnostics.ErrorTextTooLong); derr != nil {
				s.logger.Warn("Failed to record diagnostics", zap.Error(derr))
			}
		}
		return err
	}
	if !s.sim.IsModelLoaded() {
		return session.ErrModelNotLoaded
	}
	return nil
}

// acquire waits for the generation slot.
func (s *Server) acquire(ctx context.Context) error {
	err := s.slot.acquire(ctx, s.cfg.QueueTimeout)
	if errors.Is(err, errQueueTimeout) {
		s.metrics.rejected("queue_timeout")
	}
	return err
}

func (s *Server) handleSimplify(w http.ResponseWriter, r *http.Request) {
	var req SimplifyRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, decodeStatus(err), "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", textinput.MessageNoText)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.admit(ctx, text); err != nil {
		writePipelineError(w, err)
		return
	}
	if err := s.acquire(ctx); err != nil {
		if r.Context().Err() == nil {
			writePipelineError(w, err)
		}
		return
	}
	defer s.slot.release()

	out := newNDJSONWriter(w)
	stats, err := s.sim.ProcessText(ctx, text, func(fragment string, final bool) {
		if !final {
			out.write(StreamLine{Fragment: fragment})
		}
	})
	if r.Context().Err() != nil {
		// Client went away; nobody is reading.
		return
	}
	if err != nil && !out.started() {
		if errors.Is(err, session.ErrGenerationInProgress) {
			s.metrics.rejected("busy")
		}
		writePipelineError(w, err)
		return
	}

	final := StreamLine{Final: true, Stats: newStatsPayload(stats)}
	if err != nil {
		final.Error = errorCode(err)
		final.Message = userMessage(err)
	}
	out.write(final)
}

// ndjsonWriter writes newline-delimited JSON and flushes after every line.
// The 200 header is sent with the first line so that errors raised before
// any output can still use their own status.
type ndjsonWriter struct {
	w     http.ResponseWriter
	rc    *http.ResponseController
	enc   *json.Encoder
	wrote bool
}

func newNDJSONWriter(w http.ResponseWriter) *ndjsonWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &ndjsonWriter{w: w, rc: http.NewResponseController(w), enc: enc}
}

func (n *ndjsonWriter) started() bool { return n.wrote }

func (n *ndjsonWriter) write(v any) {
	if !n.wrote {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.Header().Set("Cache-Control", "no-cache")
		n.w.WriteHeader(http.StatusOK)
		n.wrote = true
	}
	_ = n.enc.Encode(v)
	_ = n.rc.Flush()
}
