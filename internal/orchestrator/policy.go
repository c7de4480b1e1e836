package orchestrator

import (
	"fmt"

	"llmgate/internal/selector"
)

// FailoverPolicy controls how the next candidate is chosen after an attempt
// fails mid-exchange.
type FailoverPolicy string

const (
	// PolicySameProviderFirst prefers sibling models of the provider that
	// just failed before switching providers. A 429 on one model usually
	// leaves the provider's other models usable, and staying put keeps any
	// provider-side request affinity. This is the default.
	PolicySameProviderFirst FailoverPolicy = "same-provider-first"

	// PolicyPlanOrder follows the selector's plan order strictly.
	PolicyPlanOrder FailoverPolicy = "plan-order"
)

// ParseFailoverPolicy maps a config string to a policy. Empty means the
// default.
func ParseFailoverPolicy(s string) (FailoverPolicy, error) {
	switch s {
	case "", string(PolicySameProviderFirst):
		return PolicySameProviderFirst, nil
	case string(PolicyPlanOrder):
		return PolicyPlanOrder, nil
	default:
		return "", fmt.Errorf("unknown failover policy %q", s)
	}
}

// orderForFailover reorders the plan according to the policy. The reorder is
// stable so the selector's ranking survives within each partition.
func orderForFailover(policy FailoverPolicy, plan []selector.Candidate, lastProvider string) []selector.Candidate {
	if policy != PolicySameProviderFirst || lastProvider == "" {
		return plan
	}

	same := make([]selector.Candidate, 0, len(plan))
	other := make([]selector.Candidate, 0, len(plan))
	for _, c := range plan {
		if c.Descriptor.Provider == lastProvider {
			same = append(same, c)
		} else {
			other = append(other, c)
		}
	}
	return append(same, other...)
}
