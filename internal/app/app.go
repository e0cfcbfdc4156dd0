// Package app wires configuration into the shared models and the pipeline.
package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Brownie44l1/damagex-api/internal/classifier"
	"github.com/Brownie44l1/damagex-api/internal/config"
	"github.com/Brownie44l1/damagex-api/internal/gatekeeper"
	"github.com/Brownie44l1/damagex-api/internal/lifecycle"
	"github.com/Brownie44l1/damagex-api/internal/model"
	"github.com/Brownie44l1/damagex-api/internal/service"
)

type App struct {
	Config      *config.Config
	Gatekeepers *lifecycle.Singleton[*gatekeeper.Gatekeeper]
	Classifiers *lifecycle.Singleton[*classifier.Classifier]
	Pipeline    *service.Pipeline
	Log         *zap.Logger
}

// New builds the providers without loading anything.
func New(cfg *config.Config, log *zap.Logger) *App {
	runtime := model.Options{
		SharedLibraryPath: cfg.Runtime.SharedLibraryPath,
		IntraOpThreads:    cfg.Runtime.IntraOpThreads,
	}
	posture := gatekeeper.PostureFor(cfg.Gatekeeper.FailClosed)

	gates := gatekeeper.NewProvider(gatekeeper.Config{
		ModelPath:    cfg.Gatekeeper.ModelPath,
		MetadataPath: cfg.Gatekeeper.MetadataPath,
		ClassesPath:  cfg.Gatekeeper.ClassesPath,
		TopK:         cfg.Gatekeeper.TopK,
		Threshold:    cfg.Gatekeeper.Threshold,
		Posture:      posture,
		Runtime:      runtime,
	}, log)

	classifiers := classifier.NewProvider(classifier.Config{
		ModelPath:    cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		ClassNames:   cfg.Model.ClassNames,
		KeyPrefix:    cfg.Model.KeyPrefix,
		Runtime:      runtime,
	}, gatekeeper.NewResolver(gates, posture, log), log)

	return &App{
		Config:      cfg,
		Gatekeepers: gates,
		Classifiers: classifiers,
		Pipeline:    service.NewPipeline(classifiers, cfg.Runtime.Workers, log),
		Log:         log,
	}
}

// Warm loads both models up front. Only a damage classifier failure is
// returned; a degraded gatekeeper has already been logged as critical.
func (a *App) Warm() error {
	a.Log.Info("Startup: initializing ML models")

	if _, err := a.Classifiers.Get(); err != nil {
		a.Log.Error("Startup failed", zap.Bool("critical", true), zap.Error(err))
		return err
	}

	g, err := a.Gatekeepers.Get()
	switch {
	case err != nil:
		a.Log.Error("Gatekeeper unavailable", zap.Bool("critical", true), zap.Error(err))
	case !g.Loaded():
		a.Log.Error("Gatekeeper running degraded",
			zap.Bool("critical", true),
			zap.String("posture", g.Posture().String()))
	}
	return nil
}

// Shutdown drains the pipeline and then closes the models. If inferences are
// still running when ctx expires the models are left open, since closing a
// session under a running inference frees memory it is still using.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.Pipeline.Drain(ctx); err != nil {
		a.Log.Error("Shutdown: inferences still running, leaving models loaded", zap.Error(err))
		return err
	}
	return a.Close()
}

func (a *App) Close() error {
	a.Log.Info("Shutdown: cleaning up")
	return errors.Join(a.Classifiers.Close(), a.Gatekeepers.Close())
}
