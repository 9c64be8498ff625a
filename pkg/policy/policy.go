// Package policy models policy bindings and decisions as pure data
// (spec §3, "Policy Binding & Decision"). Evaluation of a binding against a
// capability invocation is an external collaborator (spec §1, deliberately
// out of scope); this package only implements the one piece of logic the
// base spec assigns to the client: composing several PEPs' decisions into
// one.
package policy

// MatchType selects how a PolicyBinding is matched to an invocation.
type MatchType string

const (
	MatchCapabilityType MatchType = "capability_type"
	MatchTags           MatchType = "tags"
	MatchInstance       MatchType = "instance"
)

// Binding selects a policy to evaluate for a given PEP.
type Binding struct {
	PEP       string
	MatchType MatchType
	Priority  int
	PolicyID  string
}

// Decision is the result of evaluating one or more bindings.
type Decision struct {
	Allow       bool
	Deny        []string
	Reasons     []string
	Patches     []interface{}
	Limits      map[string]float64
	Obligations []interface{}
	Labels      map[string]string
	Routing     *RoutingHint
}

// RoutingHint optionally steers an invocation toward a specific bus/sandbox.
type RoutingHint struct {
	NatsUrl string
	Sandbox string
}

// Compose combines decisions from multiple PEPs into one, per spec §3:
//   - deny if any decision denies
//   - limits collapse by coordinate-wise minimum
//   - patches and obligations concatenate in the order decisions were given
//
// Compose is commutative with respect to the resulting Allow/Deny outcome
// (the set of decisions, not their order, determines whether the composite
// allows or denies) but NOT commutative with respect to Patches/Obligations
// ordering, which is insertion order by design (spec §8 testable property).
func Compose(decisions []Decision) Decision {
	out := Decision{
		Allow:  true,
		Limits: map[string]float64{},
		Labels: map[string]string{},
	}

	for _, d := range decisions {
		if !d.Allow || len(d.Deny) > 0 {
			out.Allow = false
		}
		out.Deny = append(out.Deny, d.Deny...)
		out.Reasons = append(out.Reasons, d.Reasons...)
		out.Patches = append(out.Patches, d.Patches...)
		out.Obligations = append(out.Obligations, d.Obligations...)

		for k, v := range d.Limits {
			if existing, ok := out.Limits[k]; !ok || v < existing {
				out.Limits[k] = v
			}
		}
		for k, v := range d.Labels {
			out.Labels[k] = v
		}
		if d.Routing != nil {
			out.Routing = d.Routing
		}
	}

	return out
}
