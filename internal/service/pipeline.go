package service

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Brownie44l1/damagex-api/internal/classifier"
	"github.com/Brownie44l1/damagex-api/internal/domain"
)

// ClassifierSource hands out the shared damage classifier.
type ClassifierSource interface {
	Get() (*classifier.Classifier, error)
	IsLoaded() bool
}

// Pipeline runs classifications on a bounded set of workers. A caller waiting
// for a worker can give up through its context; a running inference cannot be
// interrupted.
type Pipeline struct {
	source  ClassifierSource
	workers *semaphore.Weighted
	size    int
	log     *zap.Logger
}

func NewPipeline(source ClassifierSource, workers int, log *zap.Logger) *Pipeline {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{
		source:  source,
		workers: semaphore.NewWeighted(int64(workers)),
		size:    workers,
		log:     log.Named("pipeline"),
	}
}

func (p *Pipeline) Workers() int {
	return p.size
}

// Classify decodes, gates and classifies one validated image.
func (p *Pipeline) Classify(ctx context.Context, data []byte) (*domain.ClassificationResult, error) {
	log := p.log.With(zap.String("request_id", RequestID(ctx)), zap.Int("bytes", len(data)))

	if err := p.workers.Acquire(ctx, 1); err != nil {
		log.Warn("Gave up waiting for an inference worker", zap.Error(err))
		return nil, fmt.Errorf("waiting for inference worker: %w", err)
	}
	defer p.workers.Release(1)

	c, err := p.source.Get()
	if err != nil {
		log.Error("Damage classifier unavailable", zap.Error(err))
		return nil, err
	}

	res, timings, err := c.PredictTimed(data)
	fields := []zap.Field{
		zap.Duration("decode", timings.Decode),
		zap.Duration("gatekeeper", timings.Gatekeeper),
		zap.Duration("inference", timings.Inference),
		zap.Duration("total", timings.Total),
	}
	if err != nil {
		fields = append(fields, zap.String("kind", domain.KindOf(err).String()))
		if domain.IsValidation(err) {
			log.Info("Image rejected", append(fields, zap.String("reason", domain.PublicMessage(err)))...)
		} else {
			log.Error("Classification failed", append(fields, zap.Error(err))...)
		}
		return nil, err
	}

	log.Info("Classified image", append(fields,
		zap.String("category", res.Category),
		zap.Float64("confidence", res.Confidence))...)
	return res, nil
}

// Drain waits until no inference is running and keeps every worker slot, so
// nothing runs afterwards. Call it before releasing the models.
func (p *Pipeline) Drain(ctx context.Context) error {
	if err := p.workers.Acquire(ctx, int64(p.size)); err != nil {
		return fmt.Errorf("waiting for running inferences: %w", err)
	}
	return nil
}

// Ready reports whether the damage classifier is loaded.
func (p *Pipeline) Ready() bool {
	return p.source.IsLoaded()
}
