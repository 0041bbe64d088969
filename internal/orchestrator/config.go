package orchestrator

import "time"

// LayerConfig is the statically enumerated per-layer behavior record: which
// upstream endpoint computes the layer, how long results stay fresh, and the
// per-attempt deadline for its endpoint.
type LayerConfig struct {
	LayerID        string
	Endpoint       string
	TTL            time.Duration
	AttemptTimeout time.Duration
}

// Registry resolves a LayerConfig by layer id, falling back to a default
// record for layers that are not explicitly enumerated.
type Registry struct {
	byID map[string]LayerConfig
	def  LayerConfig
}

func NewRegistry(def LayerConfig, layers ...LayerConfig) *Registry {
	byID := make(map[string]LayerConfig, len(layers))
	for _, lc := range layers {
		byID[lc.LayerID] = lc
	}
	return &Registry{
		byID: byID,
		def:  def,
	}
}

func (r *Registry) For(layerID string) LayerConfig {
	if lc, ok := r.byID[layerID]; ok {
		return lc
	}
	lc := r.def
	lc.LayerID = layerID
	return lc
}

// DefaultRegistry enumerates the known layers. The attempt timeout matches
// the slowest known upstream computation (~60s).
func DefaultRegistry(defaultTTL, attemptTimeout time.Duration) *Registry {
	return NewRegistry(
		LayerConfig{
			Endpoint:       "earth-engine",
			TTL:            defaultTTL,
			AttemptTimeout: attemptTimeout,
		},
		LayerConfig{LayerID: "temperature", Endpoint: "earth-engine", TTL: time.Hour, AttemptTimeout: attemptTimeout},
		LayerConfig{LayerID: "precipitation", Endpoint: "earth-engine", TTL: time.Hour, AttemptTimeout: attemptTimeout},
		LayerConfig{LayerID: "landcover", Endpoint: "earth-engine", TTL: 6 * time.Hour, AttemptTimeout: attemptTimeout},
		LayerConfig{LayerID: "hexgrid", Endpoint: "hex-aggregator", TTL: 30 * time.Minute, AttemptTimeout: 30 * time.Second},
	)
}
