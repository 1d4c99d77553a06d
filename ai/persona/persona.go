// Package persona holds the static coach persona registry.
package persona

// Persona is read-only configuration for one coaching voice, selected per
// session. The registry never changes after process start.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	// VoiceID names a prebuilt synthesis voice at the provider.
	VoiceID string `json:"voice_id"`
	// SystemPrompt is prefixed to the advisor instruction.
	SystemPrompt string `json:"-"`
}

// DefaultID is the persona used when none is selected.
const DefaultID = "steady"

var personas = []Persona{
	{
		ID:          "steady",
		Name:        "Coach Sam",
		Description: "Calm, methodical strength coach focused on steady progression.",
		VoiceID:     "onyx",
		SystemPrompt: "You are Coach Sam, a calm and methodical strength coach. " +
			"You value consistency over intensity and always ground advice in the lifter's recent training.",
	},
	{
		ID:          "hype",
		Name:        "Coach Blaze",
		Description: "High-energy motivator who celebrates every session.",
		VoiceID:     "nova",
		SystemPrompt: "You are Coach Blaze, an enthusiastic, high-energy trainer. " +
			"You hype the athlete up, celebrate wins loudly, and keep advice short and punchy.",
	},
	{
		ID:          "science",
		Name:        "Dr. Rep",
		Description: "Evidence-based coach who explains the why behind programming.",
		VoiceID:     "alloy",
		SystemPrompt: "You are Dr. Rep, an evidence-based coach. " +
			"You reference training volume, intensity and recovery when giving advice, without being long-winded.",
	},
}

// Registry is an immutable persona lookup keyed by persona id.
type Registry struct {
	byID  map[string]Persona
	order []string
}

// NewRegistry builds the registry from the built-in persona table.
func NewRegistry() *Registry {
	r := &Registry{byID: make(map[string]Persona, len(personas))}
	for _, p := range personas {
		r.byID[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r
}

// Get returns the persona for id, falling back to the default persona when
// the id is unknown or empty.
func (r *Registry) Get(id string) Persona {
	if p, ok := r.byID[id]; ok {
		return p
	}
	return r.byID[DefaultID]
}

// List returns all personas in registration order.
func (r *Registry) List() []Persona {
	result := make([]Persona, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.byID[id])
	}
	return result
}
