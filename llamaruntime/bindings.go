// Package llamaruntime provides the inference engine boundary.
// This file contains the CGo implementation of Engine over the llama.cpp C API.
//
// Build Requirements:
// - llama.cpp headers in deps/llama.cpp/ or the system include path
// - libllama (libllama.so / llama.dll) in lib/ or the system library path
//
// Build Tags:
// - cgo: Requires CGo (enabled by default)
// - !nocgo: Excluded when the nocgo tag is set (see bindings_stub.go)
//
//go:build cgo && !nocgo

package llamaruntime

/*
#cgo CFLAGS: -I${SRCDIR}/../deps/llama.cpp -I${SRCDIR}/../deps/llama.cpp/include -I${SRCDIR}/../deps/llama.cpp/ggml/include
#cgo LDFLAGS: -L${SRCDIR}/../lib -lllama -lm -lstdc++
#cgo linux LDFLAGS: -Wl,-rpath,${SRCDIR}/../lib
#cgo windows LDFLAGS: -lllama

#include <stdlib.h>
#include <string.h>
#include <stdbool.h>
#include <stdint.h>

// Forward declarations; these must match llama.h from the pinned llama.cpp.

typedef struct llama_model llama_model;
typedef struct llama_context llama_context;
typedef struct llama_sampler llama_sampler;
typedef int32_t llama_token;
typedef int32_t llama_pos;
typedef int32_t llama_seq_id;

struct llama_model_params {
    int32_t n_gpu_layers;
    int32_t split_mode;
    int32_t main_gpu;
    const float * tensor_split;
    void * progress_callback_user_data;
    bool (* progress_callback)(float progress, void * user_data);
    void * kv_overrides;
    bool vocab_only;
    bool use_mmap;
    bool use_mlock;
    bool check_tensors;
};

struct llama_context_params {
    uint32_t n_ctx;
    uint32_t n_batch;
    uint32_t n_ubatch;
    uint32_t n_seq_max;
    int32_t n_threads;
    int32_t n_threads_batch;
    int32_t rope_scaling_type;
    int32_t pooling_type;
    int32_t attention_type;
    float rope_freq_base;
    float rope_freq_scale;
    float yarn_ext_factor;
    float yarn_attn_factor;
    float yarn_beta_fast;
    float yarn_beta_slow;
    uint32_t yarn_orig_ctx;
    float defrag_thold;
    void * cb_eval;
    void * cb_eval_user_data;
    int32_t type_k;
    int32_t type_v;
    bool logits_all;
    bool embeddings;
    bool offload_kqv;
    bool flash_attn;
    bool no_perf;
    void * abort_callback;
    void * abort_callback_data;
};

struct llama_batch {
    int32_t n_tokens;
    llama_token * token;
    float * embd;
    llama_pos * pos;
    int32_t * n_seq_id;
    llama_seq_id ** seq_id;
    int8_t * logits;
};

struct llama_sampler_chain_params {
    bool no_perf;
};

struct llama_chat_message {
    const char * role;
    const char * content;
};

extern void llama_backend_init(void);
extern struct llama_model_params llama_model_default_params(void);
extern struct llama_context_params llama_context_default_params(void);
extern llama_model * llama_load_model_from_file(const char * path_model, struct llama_model_params params);
extern void llama_free_model(llama_model * model);
extern uint64_t llama_model_size(const llama_model * model);
extern llama_context * llama_new_context_with_model(llama_model * model, struct llama_context_params params);
extern void llama_free(llama_context * ctx);
extern size_t llama_state_get_size(llama_context * ctx);
extern int32_t llama_n_vocab(const llama_model * model);
extern llama_token llama_token_eos(const llama_model * model);
extern llama_token llama_token_nl(const llama_model * model);
extern int32_t llama_tokenize(const llama_model * model, const char * text, int32_t text_len, llama_token * tokens, int32_t n_tokens_max, bool add_special, bool parse_special);
extern int32_t llama_token_to_piece(const llama_model * model, llama_token token, char * buf, int32_t length, int32_t lstrip, bool special);
extern int32_t llama_chat_apply_template(const llama_model * model, const char * tmpl, const struct llama_chat_message * chat, size_t n_msg, bool add_ass, char * buf, int32_t length);
extern struct llama_batch llama_batch_init(int32_t n_tokens, int32_t embd, int32_t n_seq_max);
extern void llama_batch_free(struct llama_batch batch);
extern int32_t llama_decode(llama_context * ctx, struct llama_batch batch);
extern void llama_kv_cache_clear(llama_context * ctx);

extern struct llama_sampler_chain_params llama_sampler_chain_default_params(void);
extern llama_sampler * llama_sampler_chain_init(struct llama_sampler_chain_params params);
extern void llama_sampler_chain_add(llama_sampler * chain, llama_sampler * smpl);
extern llama_token llama_sampler_sample(llama_sampler * chain, llama_context * ctx, int32_t idx);
extern void llama_sampler_reset(llama_sampler * smpl);
extern void llama_sampler_free(llama_sampler * smpl);
extern llama_sampler * llama_sampler_init_temp(float temp);
extern llama_sampler * llama_sampler_init_top_k(int32_t k);
extern llama_sampler * llama_sampler_init_top_p(float p, size_t min_keep);
extern llama_sampler * llama_sampler_init_min_p(float p, size_t min_keep);
extern llama_sampler * llama_sampler_init_penalties(int32_t n_vocab, llama_token special_eos_id, llama_token linefeed_id, int32_t penalty_last_n, float penalty_repeat, float penalty_freq, float penalty_present, bool penalize_nl, bool ignore_eos);
extern llama_sampler * llama_sampler_init_dist(uint32_t seed);
*/
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

var llamaBackendOnce sync.Once

// llamaInit initializes the llama.cpp backend once per process.
func llamaInit() {
	llamaBackendOnce.Do(func() {
		C.llama_backend_init()
	})
}

// BackendAvailable reports whether this build links llama.cpp.
func BackendAvailable() bool { return true }

// NewEngine returns the llama.cpp engine.
func NewEngine() Engine {
	return &llamaEngine{}
}

type llamaEngine struct{}

var _ Engine = (*llamaEngine)(nil)

// LoadModel loads GGUF weights from path. The file is validated first so a
// missing or malformed file gets a precise error instead of a NULL model.
func (e *llamaEngine) LoadModel(path string, params ModelParams) (Model, error) {
	if err := ValidateModelFile(path); err != nil {
		return nil, err
	}

	llamaInit()

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	mp := C.llama_model_default_params()
	mp.n_gpu_layers = C.int32_t(params.NumGPULayers)
	mp.use_mmap = C.bool(params.UseMMap)
	mp.use_mlock = C.bool(params.UseMlock)

	ptr := C.llama_load_model_from_file(cPath, mp)
	if ptr == nil {
		return nil, &LlamaError{
			Op:      "loadModel",
			Code:    -1,
			Message: fmt.Sprintf("failed to load model from %s", path),
			Err:     ErrModelLoadFailed,
		}
	}

	m := &llamaModel{ptr: ptr}
	runtime.SetFinalizer(m, func(m *llamaModel) {
		m.Close()
	})
	return m, nil
}

// =============================================================================
// Model
// =============================================================================

// llamaModel wraps a C llama_model pointer with automatic cleanup.
type llamaModel struct {
	ptr *C.llama_model
	mu  sync.Mutex

	stopsOnce sync.Once
	stops     []string
}

var _ Model = (*llamaModel)(nil)

func (m *llamaModel) NewContext(params ContextParams) (Context, error) {
	if err := params.Validate(); err != nil {
		return nil, &LlamaError{Op: "createContext", Code: -1, Message: err.Error(), Err: ErrContextCreateFailed}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptr == nil {
		return nil, &LlamaError{Op: "createContext", Code: -1, Message: "model is closed", Err: ErrContextCreateFailed}
	}

	cp := C.llama_context_default_params()
	cp.n_ctx = C.uint32_t(params.ContextSize)
	cp.n_batch = C.uint32_t(params.BatchSize)
	cp.n_ubatch = C.uint32_t(params.BatchSize)
	cp.n_threads = C.int32_t(params.NumThreads)
	cp.n_threads_batch = C.int32_t(params.NumThreads)

	ptr := C.llama_new_context_with_model(m.ptr, cp)
	if ptr == nil {
		return nil, &LlamaError{
			Op:      "createContext",
			Code:    -1,
			Message: "failed to create inference context (possibly insufficient memory)",
			Err:     ErrContextCreateFailed,
		}
	}

	c := &llamaContext{
		ptr:      ptr,
		model:    m,
		batch:    C.llama_batch_init(C.int32_t(params.BatchSize), 0, 1),
		batchCap: params.BatchSize,
	}
	runtime.SetFinalizer(c, func(c *llamaContext) {
		c.Close()
	})
	return c, nil
}

func (m *llamaModel) Tokenize(text string, addSpecial bool) ([]Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptr == nil {
		return nil, &LlamaError{Op: "tokenize", Code: -1, Message: "model is closed", Err: ErrTokenizeFailed}
	}
	if text == "" && !addSpecial {
		return nil, nil
	}

	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))

	// First guess: one token per byte plus room for special tokens. A
	// negative return is the exact size needed.
	buf := make([]C.llama_token, len(text)+8)
	n := C.llama_tokenize(m.ptr, cText, C.int32_t(len(text)), &buf[0], C.int32_t(len(buf)), C.bool(addSpecial), C.bool(true))
	if n < 0 {
		buf = make([]C.llama_token, int(-n))
		n = C.llama_tokenize(m.ptr, cText, C.int32_t(len(text)), &buf[0], C.int32_t(len(buf)), C.bool(addSpecial), C.bool(true))
		if n < 0 {
			return nil, &LlamaError{Op: "tokenize", Code: int(n), Message: "buffer still too small after resize", Err: ErrTokenizeFailed}
		}
	}

	out := make([]Token, int(n))
	for i := range out {
		out[i] = Token(buf[i])
	}
	return out, nil
}

// TokenToPiece renders control tokens too, so template end-of-turn markers
// surface as text for stop-marker detection.
func (m *llamaModel) TokenToPiece(tok Token) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptr == nil {
		return ""
	}

	buf := make([]byte, 64)
	n := C.llama_token_to_piece(m.ptr, C.llama_token(tok), (*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), 0, true)
	if n < 0 {
		buf = make([]byte, int(-n))
		n = C.llama_token_to_piece(m.ptr, C.llama_token(tok), (*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), 0, true)
	}
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

func (m *llamaModel) EOS() Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptr == nil {
		return -1
	}
	return Token(C.llama_token_eos(m.ptr))
}

// ChatFormat applies the template embedded in the GGUF metadata. It reports
// ok=false when the model carries no template llama.cpp recognises.
func (m *llamaModel) ChatFormat(messages []ChatMessage) (ChatPrompt, bool) {
	prompt, ok := m.applyTemplate(messages)
	if !ok {
		return ChatPrompt{}, false
	}
	m.stopsOnce.Do(func() { m.stops = DetectTemplateStops(m.applyTemplate) })
	return ChatPrompt{Prompt: prompt, StopMarkers: append([]string(nil), m.stops...)}, true
}

func (m *llamaModel) applyTemplate(messages []ChatMessage) (string, bool) {
	if len(messages) == 0 {
		return "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptr == nil {
		return "", false
	}

	n := len(messages)
	chat := (*C.struct_llama_chat_message)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(C.struct_llama_chat_message{}))))
	defer C.free(unsafe.Pointer(chat))

	msgs := unsafe.Slice(chat, n)
	cstrs := make([]*C.char, 0, 2*n)
	defer func() {
		for _, s := range cstrs {
			C.free(unsafe.Pointer(s))
		}
	}()
	for i, msg := range messages {
		role, content := C.CString(msg.Role), C.CString(msg.Content)
		cstrs = append(cstrs, role, content)
		msgs[i].role = role
		msgs[i].content = content
	}

	size := 0
	for _, msg := range messages {
		size += len(msg.Role) + len(msg.Content)
	}
	buf := make([]byte, 2*size+256)

	ret := C.llama_chat_apply_template(m.ptr, nil, chat, C.size_t(n), C.bool(true), (*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)))
	if ret < 0 {
		return "", false
	}
	if int(ret) > len(buf) {
		buf = make([]byte, int(ret))
		ret = C.llama_chat_apply_template(m.ptr, nil, chat, C.size_t(n), C.bool(true), (*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)))
		if ret < 0 || int(ret) > len(buf) {
			return "", false
		}
	}

	return string(buf[:ret]), true
}

func (m *llamaModel) SizeBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptr == nil {
		return 0
	}
	return int64(C.llama_model_size(m.ptr))
}

// Close releases the model resources. Safe to call multiple times.
func (m *llamaModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptr != nil {
		C.llama_free_model(m.ptr)
		m.ptr = nil
		runtime.SetFinalizer(m, nil)
	}
}

// =============================================================================
// Context
// =============================================================================

// llamaContext wraps a C llama_context and the batch it decodes through.
// A context is not safe for concurrent decodes; the session serialises them.
type llamaContext struct {
	ptr      *C.llama_context
	model    *llamaModel
	batch    C.struct_llama_batch
	batchCap int
	mu       sync.Mutex
}

var _ Context = (*llamaContext)(nil)

func (c *llamaContext) Decode(entries []BatchEntry) error {
	if len(entries) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ptr == nil {
		return &LlamaError{Op: "decode", Code: -1, Message: "context is closed", Err: ErrDecodeFailed}
	}
	if len(entries) > c.batchCap {
		return &LlamaError{
			Op:      "decode",
			Code:    -1,
			Message: fmt.Sprintf("batch of %d tokens exceeds capacity %d", len(entries), c.batchCap),
			Err:     ErrDecodeFailed,
		}
	}

	n := len(entries)
	tokens := unsafe.Slice(c.batch.token, c.batchCap)
	pos := unsafe.Slice(c.batch.pos, c.batchCap)
	nSeq := unsafe.Slice(c.batch.n_seq_id, c.batchCap)
	seqIDs := unsafe.Slice(c.batch.seq_id, c.batchCap)
	logits := unsafe.Slice(c.batch.logits, c.batchCap)

	for i, e := range entries {
		tokens[i] = C.llama_token(e.Token)
		pos[i] = C.llama_pos(e.Pos)
		nSeq[i] = 1
		unsafe.Slice(seqIDs[i], 1)[0] = 0
		if e.Logits {
			logits[i] = 1
		} else {
			logits[i] = 0
		}
	}
	c.batch.n_tokens = C.int32_t(n)

	if ret := C.llama_decode(c.ptr, c.batch); ret != 0 {
		return &LlamaError{
			Op:      "decode",
			Code:    int(ret),
			Message: fmt.Sprintf("llama_decode failed for %d tokens starting at position %d", n, entries[0].Pos),
			Err:     ErrDecodeFailed,
		}
	}
	return nil
}

// NewSampler builds the chain: penalties, top-k, top-p, min-p, temperature,
// then the seeded distribution sampler.
func (c *llamaContext) NewSampler(params SamplingParams) (Sampler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ptr == nil {
		return nil, &LlamaError{Op: "newSampler", Code: -1, Message: "context is closed", Err: ErrSamplerInitFailed}
	}

	c.model.mu.Lock()
	vocab := C.llama_n_vocab(c.model.ptr)
	eos := C.llama_token_eos(c.model.ptr)
	nl := C.llama_token_nl(c.model.ptr)
	c.model.mu.Unlock()

	chain := C.llama_sampler_chain_init(C.llama_sampler_chain_default_params())
	if chain == nil {
		return nil, &LlamaError{Op: "newSampler", Code: -1, Message: "llama_sampler_chain_init returned NULL", Err: ErrSamplerInitFailed}
	}

	if params.UsesPenalties() {
		C.llama_sampler_chain_add(chain, C.llama_sampler_init_penalties(
			vocab, eos, nl,
			C.int32_t(params.PenaltyLastN),
			C.float(params.RepeatPenalty),
			C.float(params.FrequencyPenalty),
			C.float(params.PresencePenalty),
			false, // penalize_nl
			false, // ignore_eos
		))
	}
	if params.TopK > 0 {
		C.llama_sampler_chain_add(chain, C.llama_sampler_init_top_k(C.int32_t(params.TopK)))
	}
	if params.TopP > 0 && params.TopP < 1.0 {
		C.llama_sampler_chain_add(chain, C.llama_sampler_init_top_p(C.float(params.TopP), 1))
	}
	if params.MinP > 0 {
		C.llama_sampler_chain_add(chain, C.llama_sampler_init_min_p(C.float(params.MinP), 1))
	}
	if params.Temperature > 0 {
		C.llama_sampler_chain_add(chain, C.llama_sampler_init_temp(C.float(params.Temperature)))
	}
	C.llama_sampler_chain_add(chain, C.llama_sampler_init_dist(C.uint32_t(params.Seed)))

	s := &llamaSampler{ptr: chain, ctx: c}
	runtime.SetFinalizer(s, func(s *llamaSampler) {
		s.Close()
	})
	return s, nil
}

func (c *llamaContext) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ptr == nil {
		return 0
	}
	return int64(C.llama_state_get_size(c.ptr))
}

func (c *llamaContext) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ptr != nil {
		C.llama_kv_cache_clear(c.ptr)
	}
}

// Close releases the batch and context. Safe to call multiple times.
func (c *llamaContext) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ptr != nil {
		C.llama_batch_free(c.batch)
		C.llama_free(c.ptr)
		c.ptr = nil
		runtime.SetFinalizer(c, nil)
	}
}

// =============================================================================
// Sampler
// =============================================================================

type llamaSampler struct {
	ptr *C.llama_sampler
	ctx *llamaContext
	mu  sync.Mutex
}

var _ Sampler = (*llamaSampler)(nil)

// Sample draws from the logits of the last decoded position.
func (s *llamaSampler) Sample() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptr == nil {
		return -1
	}

	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	if s.ctx.ptr == nil {
		return -1
	}
	return Token(C.llama_sampler_sample(s.ptr, s.ctx.ptr, -1))
}

// Accept is a no-op: llama_sampler_sample already records the sampled
// token in the penalty history.
func (s *llamaSampler) Accept(Token) {}

func (s *llamaSampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptr != nil {
		C.llama_sampler_reset(s.ptr)
	}
}

func (s *llamaSampler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptr != nil {
		C.llama_sampler_free(s.ptr)
		s.ptr = nil
		runtime.SetFinalizer(s, nil)
	}
}
