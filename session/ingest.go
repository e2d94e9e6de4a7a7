package session

import (
	"fmt"

	"leveler/llamaruntime"
)

// BatchIngester feeds a prompt into the runtime context in chunks.
type BatchIngester struct {
	rctx      llamaruntime.Context
	batchSize int
}

// NewBatchIngester returns an ingester that decodes at most batchSize tokens per call.
func NewBatchIngester(rctx llamaruntime.Context, batchSize int) *BatchIngester {
	if batchSize < 1 {
		batchSize = llamaruntime.DefaultBatchSize
	}
	return &BatchIngester{rctx: rctx, batchSize: batchSize}
}

// Ingest decodes tokens starting at position start. Only the last token of
// the last chunk requests logits. It returns the position after the final
// token. Any chunk failure aborts the whole ingestion.
func (b *BatchIngester) Ingest(tokens []llamaruntime.Token, start int) (int, error) {
	if len(tokens) == 0 {
		return start, fmt.Errorf("%w: empty prompt", ErrInferenceFailed)
	}

	batch := make([]llamaruntime.BatchEntry, 0, b.batchSize)
	for off := 0; off < len(tokens); off += b.batchSize {
		end := min(off+b.batchSize, len(tokens))

		batch = batch[:0]
		for i := off; i < end; i++ {
			batch = append(batch, llamaruntime.BatchEntry{
				Token:  tokens[i],
				Pos:    start + i,
				Logits: i == len(tokens)-1,
			})
		}
		if err := b.rctx.Decode(batch); err != nil {
			return start, fmt.Errorf("%w: prompt chunk at position %d: %w", ErrInferenceFailed, start+off, err)
		}
	}
	return start + len(tokens), nil
}
