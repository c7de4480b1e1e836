// Package selector produces the ordered fallback plan of (provider, model)
// candidates for one exchange, consulting the catalog for capability data and
// the rate-limit tracker for current health.
package selector

import (
	"sort"

	"llmgate/internal/catalog"
	"llmgate/internal/core"
	"llmgate/internal/providers"
	"llmgate/internal/ratelimit"
)

// Requirements describes what an exchange needs from a model.
type Requirements struct {
	// Tier is the requested capability tier.
	Tier catalog.Tier

	// MinContext is the estimated prompt footprint in tokens; candidates
	// whose context window cannot hold it are filtered out.
	MinContext int

	// NeedTools requires tool-use capability.
	NeedTools bool

	// Pool is the caller-supplied ordered credential pool.
	Pool []core.ProviderConfig

	// RequestedModel optionally pins a preferred model; matching candidates
	// are ordered first, the rest remain as fallback.
	RequestedModel core.ModelRef
}

// Candidate is a (provider, model) pair eligible for an attempt.
type Candidate struct {
	Config     core.ProviderConfig
	Descriptor catalog.Descriptor
}

// Key returns the rate-limit key for the candidate.
func (c Candidate) Key() ratelimit.Key {
	return ratelimit.Key{Provider: c.Descriptor.Provider, Model: c.Descriptor.ID}
}

// Selector builds candidate plans. Stateless between calls: identical
// requirements against identical tracker state yield identical plans.
type Selector struct {
	catalog *catalog.Catalog
	tracker *ratelimit.Tracker
}

// New creates a selector over the given catalog and tracker.
func New(cat *catalog.Catalog, tracker *ratelimit.Tracker) *Selector {
	return &Selector{catalog: cat, tracker: tracker}
}

// Select returns the ordered fallback plan. The list is a plan, not a
// commitment: the orchestration loop consumes it lazily and re-queries when
// the plan is exhausted mid-exchange.
//
// Ordering: available candidates before unavailable ones; within each
// partition by provider priority, then free models first, then larger
// remaining capacity, then catalog order for determinism.
func (s *Selector) Select(req Requirements) []Candidate {
	poolByType := make(map[string]core.ProviderConfig, len(req.Pool))
	poolOrder := make(map[string]int, len(req.Pool))
	for i, p := range req.Pool {
		if !p.Enabled || !providers.Known(p.Type) {
			continue
		}
		if _, dup := poolByType[p.Type]; dup {
			continue // first entry per type wins
		}
		poolByType[p.Type] = p
		poolOrder[p.Type] = i
	}

	var candidates []Candidate
	for _, d := range s.catalog.List() {
		cfg, ok := poolByType[d.Provider]
		if !ok {
			continue
		}
		if d.Deprecated || d.Tier != req.Tier {
			continue
		}
		if req.NeedTools && !d.ToolUse {
			continue
		}
		if req.MinContext > 0 && !catalog.Fits(d, req.MinContext) {
			continue
		}
		candidates = append(candidates, Candidate{Config: cfg, Descriptor: d})
	}

	// Pinned model joins the plan even when its tier differs from the
	// requested one; the caller asked for it explicitly.
	if req.RequestedModel.Model != "" {
		candidates = s.addPinned(candidates, req, poolByType)
	}

	type ranked struct {
		c         Candidate
		available bool
		capacity  int
	}
	rankedList := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		key := c.Key()
		rankedList = append(rankedList, ranked{
			c:         c,
			available: s.tracker.Available(key),
			capacity:  s.tracker.CapacityHint(key),
		})
	}

	pinned := func(c Candidate) bool {
		if req.RequestedModel.Model == "" {
			return false
		}
		if c.Descriptor.ID != req.RequestedModel.Model {
			return false
		}
		return req.RequestedModel.Provider == "" || req.RequestedModel.Provider == c.Descriptor.Provider
	}

	sort.SliceStable(rankedList, func(i, j int) bool {
		a, b := rankedList[i], rankedList[j]
		if a.available != b.available {
			return a.available
		}
		if pa, pb := pinned(a.c), pinned(b.c); pa != pb {
			return pa
		}
		if pa, pb := a.c.Config.Priority, b.c.Config.Priority; pa != pb {
			return pa < pb
		}
		if oa, ob := poolOrder[a.c.Descriptor.Provider], poolOrder[b.c.Descriptor.Provider]; oa != ob {
			return oa < ob
		}
		if fa, fb := a.c.Descriptor.Free(), b.c.Descriptor.Free(); fa != fb {
			return fa
		}
		if a.capacity != b.capacity {
			return a.capacity > b.capacity
		}
		if a.c.Descriptor.Provider != b.c.Descriptor.Provider {
			return a.c.Descriptor.Provider < b.c.Descriptor.Provider
		}
		return a.c.Descriptor.ID < b.c.Descriptor.ID
	})

	out := make([]Candidate, len(rankedList))
	for i, r := range rankedList {
		out[i] = r.c
	}
	return out
}

// addPinned appends the explicitly requested model when the tier filter
// excluded it but the pool and catalog know it.
func (s *Selector) addPinned(candidates []Candidate, req Requirements, poolByType map[string]core.ProviderConfig) []Candidate {
	have := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		have[c.Descriptor.Provider+"/"+c.Descriptor.ID] = true
	}

	for providerType, cfg := range poolByType {
		if req.RequestedModel.Provider != "" && req.RequestedModel.Provider != providerType {
			continue
		}
		d, ok := s.catalog.Get(providerType, req.RequestedModel.Model)
		if !ok || d.Deprecated {
			continue
		}
		if req.NeedTools && !d.ToolUse {
			continue
		}
		if req.MinContext > 0 && !catalog.Fits(d, req.MinContext) {
			continue
		}
		key := providerType + "/" + d.ID
		if !have[key] {
			have[key] = true
			candidates = append(candidates, Candidate{Config: cfg, Descriptor: d})
		}
	}

	return candidates
}
