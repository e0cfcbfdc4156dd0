// Package classifier runs the fine-tuned damage model behind the vehicle gatekeeper.
package classifier

import (
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/damagex-api/internal/domain"
	"github.com/Brownie44l1/damagex-api/internal/imaging"
	"github.com/Brownie44l1/damagex-api/internal/lifecycle"
	"github.com/Brownie44l1/damagex-api/internal/model"
)

// DefaultClassNames are the categories of the shipped checkpoint, in output order.
var DefaultClassNames = []string{
	"Front Breakage",
	"Front Crushed",
	"Front Normal",
	"Rear Breakage",
	"Rear Crushed",
	"Rear Normal",
}

// Gate admits or rejects an image before classification.
type Gate interface {
	IsVehicle(img image.Image) bool
}

type Config struct {
	ModelPath    string
	MetadataPath string
	ClassNames   []string
	// KeyPrefix is stripped from stored graph names when they do not match directly.
	KeyPrefix string
	Runtime   model.Options
}

type Classifier struct {
	handle  *model.Handle
	classes []string
	gate    Gate
	log     *zap.Logger
}

func New(handle *model.Handle, classes []string, gate Gate, log *zap.Logger) (*Classifier, error) {
	if handle == nil {
		return nil, errors.New("classifier: nil model handle")
	}
	if len(classes) < 2 {
		return nil, fmt.Errorf("classifier: need at least 2 classes, got %d", len(classes))
	}
	if gate == nil {
		return nil, errors.New("classifier: nil gate")
	}
	seen := make(map[string]bool, len(classes))
	for _, name := range classes {
		if name == "" || seen[name] {
			return nil, fmt.Errorf("classifier: class names must be unique and non-empty, got %q", classes)
		}
		seen[name] = true
	}
	return &Classifier{
		handle:  handle,
		classes: append([]string(nil), classes...),
		gate:    gate,
		log:     log.Named("classifier"),
	}, nil
}

// Load opens the damage model. Any failure, including a graph whose names or
// output width cannot be reconciled with the configuration, is a ModelLoadError.
func Load(cfg Config, gate Gate, log *zap.Logger) (*Classifier, error) {
	classes := cfg.ClassNames
	if len(classes) == 0 {
		classes = DefaultClassNames
	}

	log.Info("Loading damage model", zap.String("path", cfg.ModelPath), zap.Int("classes", len(classes)))

	opts := cfg.Runtime
	opts.KeyPrefix = cfg.KeyPrefix
	opts.OutputWidth = len(classes)

	handle, err := model.Load(cfg.ModelPath, cfg.MetadataPath, opts)
	if err != nil {
		log.Error("Failed to load damage model", zap.Bool("critical", true), zap.Error(err))
		return nil, domain.ModelLoadError("damage classifier", err)
	}

	c, err := New(handle, classes, gate, log)
	if err != nil {
		handle.Close()
		return nil, domain.ModelLoadError("damage classifier", err)
	}
	log.Info("Damage model loaded")
	return c, nil
}

// NewProvider returns the process-wide lazily loaded classifier.
func NewProvider(cfg Config, gate Gate, log *zap.Logger) *lifecycle.Singleton[*Classifier] {
	return lifecycle.New("damage classifier", func() (*Classifier, error) {
		return Load(cfg, gate, log)
	})
}

func (c *Classifier) Loaded() bool {
	return c != nil && c.handle != nil
}

func (c *Classifier) Classes() []string {
	return append([]string(nil), c.classes...)
}

// Predict decodes, gates and classifies one image.
func (c *Classifier) Predict(data []byte) (*domain.ClassificationResult, error) {
	res, _, err := c.PredictTimed(data)
	return res, err
}

// PredictTimed is Predict plus per-stage durations.
func (c *Classifier) PredictTimed(data []byte) (res *domain.ClassificationResult, t domain.Timings, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			res = nil
		}
		if err != nil && !domain.IsValidation(err) {
			c.log.Error("Prediction error", zap.Error(err), zap.Stack("stack"))
			var de *domain.Error
			if !errors.As(err, &de) {
				err = domain.InternalError(err)
			}
		}
		t.Total = time.Since(start)
	}()

	img, _, err := imaging.Decode(data)
	t.Decode = time.Since(start)
	if err != nil {
		return nil, t, domain.DecodeError(err)
	}

	mark := time.Now()
	admitted := c.gate.IsVehicle(img)
	t.Gatekeeper = time.Since(mark)
	if !admitted {
		return nil, t, domain.Rejected()
	}

	mark = time.Now()
	res, err = c.classify(img)
	t.Inference = time.Since(mark)
	return res, t, err
}

func (c *Classifier) classify(img image.Image) (*domain.ClassificationResult, error) {
	probs, err := c.handle.Probabilities(img)
	if err != nil {
		return nil, err
	}
	if len(probs) != len(c.classes) {
		return nil, fmt.Errorf("model returned %d scores for %d classes", len(probs), len(c.classes))
	}

	best := model.Argmax(probs)
	details := make(map[string]float64, len(c.classes))
	for i, name := range c.classes {
		details[name] = probs[i]
	}

	return &domain.ClassificationResult{
		Category:   c.classes[best],
		Confidence: probs[best],
		Details:    details,
	}, nil
}

func (c *Classifier) Close() error {
	return c.handle.Close()
}
