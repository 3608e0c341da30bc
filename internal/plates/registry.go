package plates

import (
	"fmt"
	"sync"
)

// Comparer reports whether two encoded plate crops show the same physical
// plate. The registry uses it to deduplicate detections that carry no
// extracted text.
type Comparer func(a, b []byte) bool

// Registry assigns stable identities to raw detections and keeps the best
// representative observation per identity. It is safe for concurrent use,
// though the frame loop drives it from a single goroutine.
type Registry struct {
	mu     sync.Mutex
	sameAs Comparer
	byID   map[string]*Plate
	order  []string
	nextID int
}

// NewRegistry returns an empty registry. sameAs decides visual matches for
// textless detections; a nil comparer disables visual matching entirely,
// so every textless detection becomes a new identity.
func NewRegistry(sameAs Comparer) *Registry {
	return &Registry{
		sameAs: sameAs,
		byID:   make(map[string]*Plate),
	}
}

// Resolve matches a detection against the known identities and returns the
// identity id plus whether it was an existing one.
//
// When text is non-empty, only an exact text match counts. When text is
// empty, identities are scanned in creation order and the first whose
// representative the comparer accepts wins. With no candidate, a fresh
// identity is created from the detection. With a candidate, its
// representative fields are replaced only when the new detection is
// strictly sharper; a non-empty text never reverts to empty.
func (r *Registry) Resolve(det Detection, text string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidate *Plate
	if text != "" {
		for _, id := range r.order {
			if r.byID[id].Text == text {
				candidate = r.byID[id]
				break
			}
		}
	} else if r.sameAs != nil {
		for _, id := range r.order {
			if r.sameAs(det.Image, r.byID[id].Image) {
				candidate = r.byID[id]
				break
			}
		}
	}

	if candidate == nil {
		id := r.allocateLocked()
		r.byID[id] = &Plate{
			ID:         id,
			Text:       text,
			Image:      det.Image,
			Clarity:    det.Clarity,
			Confidence: det.Confidence,
			Rotation:   det.Rotation,
		}
		r.order = append(r.order, id)
		return id, false
	}

	if det.Clarity > candidate.Clarity {
		candidate.Image = det.Image
		candidate.Clarity = det.Clarity
		candidate.Confidence = det.Confidence
		candidate.Rotation = det.Rotation
		if text != "" {
			candidate.Text = text
		}
	}
	return candidate.ID, true
}

// AllocateID hands out the next sequential identity id without creating an
// identity. Resolve uses the same sequence internally.
func (r *Registry) AllocateID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocateLocked()
}

func (r *Registry) allocateLocked() string {
	r.nextID++
	return fmt.Sprintf("PLATE%03d", r.nextID)
}

// Sequence returns how many ids have been allocated so far. The caller
// uses it to number placeholder texts consistently with identity ids.
func (r *Registry) Sequence() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}

// Get returns a copy of the identity's current state.
func (r *Registry) Get(id string) (Plate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return Plate{}, false
	}
	return *p, true
}

// SetText assigns text to an identity that has none yet. It refuses to
// overwrite an existing text or to assign a text already held by another
// identity, keeping text a unique key.
func (r *Registry) SetText(id, text string) bool {
	if text == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.Text != "" {
		return false
	}
	for _, other := range r.byID {
		if other.Text == text {
			return false
		}
	}
	p.Text = text
	return true
}

// SetSpeed records a derived speed on an identity. Speed changes
// independently of the representative merge rule.
func (r *Registry) SetSpeed(id string, kmh float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	p.Speed = &kmh
	return true
}

// Count returns the number of identities.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// List returns copies of all identities in creation order.
func (r *Registry) List() []Plate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Plate, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}
