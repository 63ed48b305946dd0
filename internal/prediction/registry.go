package prediction

import (
	"errors"
	"fmt"
	"sync"
)

// ErrModelNotTrained is returned when a prediction is requested before any
// training run has completed and been activated.
var ErrModelNotTrained = errors.New("no active model version")

// ModelVersion is one trained artifact in the registry.
type ModelVersion struct {
	Version   int
	ModelType string
	Fitted    Fitted
	Report    *TrainingReport
}

// Registry holds trained model versions. The active version is explicit:
// adding a version never changes what Predict serves until Activate is
// called.
type Registry struct {
	mu       sync.RWMutex
	versions map[int]*ModelVersion
	active   int
	next     int
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{versions: make(map[int]*ModelVersion), next: 1}
}

// Add registers a trained model and returns its assigned version number.
func (r *Registry) Add(modelType string, fitted Fitted, report *TrainingReport) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	version := r.next
	r.next++
	report.Version = version
	r.versions[version] = &ModelVersion{
		Version:   version,
		ModelType: modelType,
		Fitted:    fitted,
		Report:    report,
	}
	return version
}

// Activate makes version the one served by Active.
func (r *Registry) Activate(version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.versions[version]; !ok {
		return fmt.Errorf("model version %d not in registry", version)
	}
	r.active = version
	return nil
}

// Active returns the serving model version or ErrModelNotTrained.
func (r *Registry) Active() (*ModelVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == 0 {
		return nil, ErrModelNotTrained
	}
	return r.versions[r.active], nil
}

// Get returns a specific version.
func (r *Registry) Get(version int) (*ModelVersion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mv, ok := r.versions[version]
	return mv, ok
}
