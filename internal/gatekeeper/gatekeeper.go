// Package gatekeeper screens images with a general ImageNet classifier before
// the damage model sees them.
//
// Damage photos are often tight crops where the top-1 ImageNet class is
// something unrelated, so an image is admitted when any curated vehicle class
// appears among the top-k predictions with a small probability, rather than
// requiring the vehicle class to win outright.
package gatekeeper

import (
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/Brownie44l1/damagex-api/internal/lifecycle"
	"github.com/Brownie44l1/damagex-api/internal/model"
)

const (
	DefaultTopK      = 10
	DefaultThreshold = 0.01
)

type Config struct {
	ModelPath    string
	MetadataPath string
	ClassesPath  string
	TopK         int
	Threshold    float64
	Posture      Posture
	Runtime      model.Options
}

// Verdict is the admission decision with the evidence behind it.
type Verdict struct {
	Vehicle bool
	Top     []model.Score
	Match   *model.Score
	// Degraded is set when the decision came from the posture, not the model.
	Degraded bool
}

type Gatekeeper struct {
	handle    *model.Handle
	classes   ClassSet
	topK      int
	threshold float64
	posture   Posture
	log       *zap.Logger
}

// New wraps an already loaded handle. A nil handle yields a gatekeeper that
// answers every request from its posture.
func New(handle *model.Handle, classes ClassSet, cfg Config, log *zap.Logger) *Gatekeeper {
	if classes == nil {
		classes = NewClassSet(DefaultVehicleClasses)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gatekeeper{
		handle:    handle,
		classes:   classes,
		topK:      topK,
		threshold: threshold,
		posture:   cfg.Posture,
		log:       log.Named("gatekeeper"),
	}
}

// Load builds the gatekeeper from disk. A model that fails to load is logged
// as critical and leaves the gatekeeper degraded; only an unreadable class
// file is an error.
func Load(cfg Config, log *zap.Logger) (*Gatekeeper, error) {
	classes := NewClassSet(DefaultVehicleClasses)
	if cfg.ClassesPath != "" {
		var err error
		if classes, err = LoadClassSet(cfg.ClassesPath); err != nil {
			return nil, err
		}
	}

	log.Info("Loading vehicle gatekeeper", zap.String("path", cfg.ModelPath), zap.Int("vehicle_classes", len(classes)))
	handle, err := model.Load(cfg.ModelPath, cfg.MetadataPath, cfg.Runtime)
	if err != nil {
		log.Error("Failed to load gatekeeper model",
			zap.Bool("critical", true),
			zap.String("posture", cfg.Posture.String()),
			zap.Error(err))
		handle = nil
	} else {
		log.Info("Gatekeeper loaded")
	}
	return New(handle, classes, cfg, log), nil
}

// NewProvider returns the process-wide lazily loaded gatekeeper.
func NewProvider(cfg Config, log *zap.Logger) *lifecycle.Singleton[*Gatekeeper] {
	return lifecycle.New("gatekeeper", func() (*Gatekeeper, error) {
		return Load(cfg, log)
	})
}

func (g *Gatekeeper) Loaded() bool {
	return g != nil && g.handle != nil
}

func (g *Gatekeeper) Posture() Posture {
	return g.posture
}

// IsVehicle reports whether img plausibly shows a vehicle.
func (g *Gatekeeper) IsVehicle(img image.Image) bool {
	return g.Check(img).Vehicle
}

// Check never fails: model errors and panics resolve through the posture.
func (g *Gatekeeper) Check(img image.Image) (v Verdict) {
	if g.handle == nil {
		return Verdict{Vehicle: g.posture.resolve(g.log, "Gatekeeper model not loaded", nil), Degraded: true}
	}
	if img == nil {
		return Verdict{Vehicle: g.posture.resolve(g.log, "Gatekeeper error", fmt.Errorf("nil image")), Degraded: true}
	}

	defer func() {
		if r := recover(); r != nil {
			v = Verdict{Vehicle: g.posture.resolve(g.log, "Gatekeeper error", fmt.Errorf("panic: %v", r)), Degraded: true}
		}
	}()

	probs, err := g.handle.Probabilities(img)
	if err != nil {
		return Verdict{Vehicle: g.posture.resolve(g.log, "Gatekeeper error", err), Degraded: true}
	}

	top := model.TopK(probs, g.topK)
	for i := range top {
		s := top[i]
		g.log.Debug("Gatekeeper check", zap.Int("class", s.Index), zap.Float64("score", s.Score))
		if g.classes.Contains(s.Index) && s.Score > g.threshold {
			g.log.Info("Vehicle detected", zap.Int("class", s.Index), zap.Float64("score", s.Score))
			return Verdict{Vehicle: true, Top: top, Match: &s}
		}
	}

	best := top[0]
	g.log.Info("No vehicle in top-k",
		zap.Int("k", g.topK),
		zap.Int("top_class", best.Index),
		zap.Float64("top_score", best.Score))
	return Verdict{Vehicle: false, Top: top}
}

func (g *Gatekeeper) Close() error {
	if g.handle == nil {
		return nil
	}
	return g.handle.Close()
}
