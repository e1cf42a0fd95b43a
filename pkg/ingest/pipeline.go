package ingest

import (
	"context"

	"github.com/go-pkgz/lgr"

	"crossfeed/pkg/domain"
)

// Evaluator matches stored content against cross-posting rules; the
// implementation lives in pkg/rules
type Evaluator interface {
	Evaluate(ctx context.Context, content *domain.InboundContent) ([]*domain.CrossPost, error)
}

// Pipeline couples normalization with rule evaluation so every newly
// stored item is immediately considered for cross-posting. Duplicates
// never reach the evaluator, which keeps re-deliveries from re-queueing
// already published content.
type Pipeline struct {
	normalizer *Normalizer
	evaluator  Evaluator
}

// NewPipeline creates the ingest pipeline
func NewPipeline(normalizer *Normalizer, evaluator Evaluator) *Pipeline {
	return &Pipeline{normalizer: normalizer, evaluator: evaluator}
}

// Ingest normalizes, stores and evaluates one raw item. Evaluation errors
// only log: the content is stored, and a later rule change can pick it up.
func (p *Pipeline) Ingest(ctx context.Context, raw RawContent) (*Result, error) {
	res, err := p.normalizer.Ingest(ctx, raw)
	if err != nil {
		return nil, err
	}
	if res.Duplicate || res.Content == nil {
		return res, nil
	}

	if _, err := p.evaluator.Evaluate(ctx, res.Content); err != nil {
		lgr.Printf("[WARN] evaluate rules for content %d: %v", res.Content.ID, err)
	}
	return res, nil
}
