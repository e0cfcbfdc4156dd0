package gatekeeper

import (
	"image"

	"go.uber.org/zap"

	"github.com/Brownie44l1/damagex-api/internal/lifecycle"
)

// Resolver looks up the shared gatekeeper on every call, so the damage
// classifier never holds a reference to a gatekeeper that failed to build.
type Resolver struct {
	provider *lifecycle.Singleton[*Gatekeeper]
	posture  Posture
	log      *zap.Logger
}

func NewResolver(provider *lifecycle.Singleton[*Gatekeeper], posture Posture, log *zap.Logger) *Resolver {
	return &Resolver{provider: provider, posture: posture, log: log.Named("gatekeeper")}
}

func (r *Resolver) IsVehicle(img image.Image) bool {
	g, err := r.provider.Get()
	if err != nil {
		return r.posture.resolve(r.log, "Gatekeeper unavailable", err)
	}
	return g.IsVehicle(img)
}

func (r *Resolver) Loaded() bool {
	return r.provider.IsLoaded()
}
