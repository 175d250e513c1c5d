package kinds

import (
	"sync"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
)

// Capability describes what the delivery core is allowed to do with a
// question kind. Kinds register once at startup; unknown kinds get zero-value
// capabilities, which in particular keeps them out of random selection.
type Capability struct {
	// UsableByRandom marks the kind as eligible for random slot resolution.
	// Kinds that carry no gradeable interaction (e.g. descriptions) leave
	// this false.
	UsableByRandom bool
}

// Registry maps question kinds to their declared capabilities.
type Registry struct {
	mu   sync.RWMutex
	caps map[models.QuestionKind]Capability
}

func NewRegistry() *Registry {
	return &Registry{caps: make(map[models.QuestionKind]Capability)}
}

// Register declares the capability set for a kind, replacing any previous
// declaration.
func (r *Registry) Register(kind models.QuestionKind, cap Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[kind] = cap
}

// Lookup returns the declared capability for a kind. Unregistered kinds
// report zero capabilities.
func (r *Registry) Lookup(kind models.QuestionKind) Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[kind]
}

// UsableByRandom reports whether the kind may be dispensed by the selection
// engine.
func (r *Registry) UsableByRandom(kind models.QuestionKind) bool {
	return r.Lookup(kind).UsableByRandom
}

// Default returns a registry with the built-in kinds declared.
func Default() *Registry {
	r := NewRegistry()
	r.Register(models.KindMultipleChoice, Capability{UsableByRandom: true})
	r.Register(models.KindTrueFalse, Capability{UsableByRandom: true})
	r.Register(models.KindShortAnswer, Capability{UsableByRandom: true})
	r.Register(models.KindEssay, Capability{UsableByRandom: true})
	r.Register(models.KindMatching, Capability{UsableByRandom: true})
	r.Register(models.KindNumerical, Capability{UsableByRandom: true})
	r.Register(models.KindDescription, Capability{UsableByRandom: false})
	return r
}
