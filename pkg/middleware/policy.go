package middleware

import (
	"context"
	"strconv"

	"github.com/morezero/capability-sdk/pkg/capsdk"
	"github.com/morezero/capability-sdk/pkg/policy"
)

// PEP evaluates a single policy enforcement point against an envelope.
type PEP func(ctx context.Context, envelope *capsdk.Envelope) (policy.Decision, error)

// PolicyConfig configures the policy middleware: pre-PEPs run (and compose)
// before next is called; post-PEPs run after (spec §4.7, "Policy").
type PolicyConfig struct {
	PrePEPs  []PEP
	PostPEPs []PEP
}

// Policy evaluates configured PEPs and composes their decisions with
// policy.Compose. A denied pre-decision short-circuits with
// POLICY_DENIED; an allowed decision merges obligations into
// ctx.obligations and records the decision's reasons in ctx.meta.
func Policy(cfg PolicyConfig) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, envelope *capsdk.Envelope) (*capsdk.Result, error) {
			if len(cfg.PrePEPs) > 0 {
				decision, err := evaluateAndCompose(ctx, envelope, cfg.PrePEPs)
				if err != nil {
					return nil, err
				}
				if !decision.Allow {
					return nil, capsdk.NewError(capsdk.CodePolicyDenied, joinReasons(decision.Reasons))
				}
				applyDecision(envelope, decision)
			}

			result, err := next(ctx, envelope)
			if err != nil || len(cfg.PostPEPs) == 0 {
				return result, err
			}

			decision, perr := evaluateAndCompose(ctx, envelope, cfg.PostPEPs)
			if perr != nil {
				return nil, perr
			}
			if !decision.Allow {
				return nil, capsdk.NewError(capsdk.CodePolicyDenied, joinReasons(decision.Reasons))
			}
			applyDecision(envelope, decision)
			return result, nil
		}
	}
}

func evaluateAndCompose(ctx context.Context, envelope *capsdk.Envelope, peps []PEP) (policy.Decision, error) {
	decisions := make([]policy.Decision, 0, len(peps))
	for _, pep := range peps {
		d, err := pep(ctx, envelope)
		if err != nil {
			return policy.Decision{}, capsdk.NewError(capsdk.CodePolicyEngineUnavailable, "policy evaluation failed: "+err.Error())
		}
		decisions = append(decisions, d)
	}
	return policy.Compose(decisions), nil
}

func applyDecision(envelope *capsdk.Envelope, decision policy.Decision) {
	if envelope.Ctx == nil {
		envelope.Ctx = &capsdk.InvocationContext{}
	}
	if len(decision.Obligations) > 0 {
		if envelope.Ctx.Obligations == nil {
			envelope.Ctx.Obligations = make(map[string]interface{})
		}
		for i, o := range decision.Obligations {
			envelope.Ctx.Obligations[obligationKey(i)] = o
		}
	}
	if envelope.Ctx.Meta == nil {
		envelope.Ctx.Meta = make(map[string]interface{})
	}
	envelope.Ctx.Meta["policyReasons"] = decision.Reasons
}

func obligationKey(i int) string {
	return "obligation_" + strconv.Itoa(i)
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "denied by policy"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
