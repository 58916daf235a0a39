package triage

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// kindRank orders trigger kinds by specificity. Lower matches first.
func kindRank(k TriggerKind) int {
	switch k {
	case TriggerSenderExact:
		return 0
	case TriggerSenderDomain:
		return 1
	case TriggerSubjectContain:
		return 2
	case TriggerPattern:
		return 3
	default:
		return 4
	}
}

// orderRules sorts rules into deterministic match order: most specific kind
// first, and among equal-specificity rules the most recently created wins.
func orderRules(rules []*Rule) []*Rule {
	out := make([]*Rule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := kindRank(out[i].Kind), kindRank(out[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// matchRule returns the first rule matching the item in deterministic
// order, or nil. Rules with empty or malformed triggers never match; they
// are logged and left in place rather than auto-deleted.
func matchRule(ctx context.Context, logger log.Logger, rules []*Rule, it *Item) *Rule {
	for _, r := range orderRules(rules) {
		if strings.TrimSpace(r.Trigger) == "" {
			logger.Warn(ctx, "rule has empty trigger, skipping", "rule_id", r.ID, "kind", r.Kind)
			continue
		}
		ok, err := ruleMatches(r, it)
		if err != nil {
			logger.Warn(ctx, "rule has malformed trigger, skipping",
				"rule_id", r.ID, "kind", r.Kind, "trigger", r.Trigger, "error", err)
			continue
		}
		if ok {
			return r
		}
	}
	return nil
}

func ruleMatches(r *Rule, it *Item) (bool, error) {
	switch r.Kind {
	case TriggerSenderExact:
		return strings.EqualFold(it.Sender, r.Trigger), nil
	case TriggerSenderDomain:
		return senderDomain(it.Sender) == strings.ToLower(strings.TrimPrefix(r.Trigger, "@")), nil
	case TriggerSubjectContain:
		return strings.Contains(strings.ToLower(it.Subject), strings.ToLower(r.Trigger)), nil
	case TriggerPattern:
		re, err := regexp.Compile(r.Trigger)
		if err != nil {
			return false, err
		}
		return re.MatchString(it.Subject) || re.MatchString(it.Sender) || re.MatchString(it.Content), nil
	default:
		return false, nil
	}
}

// senderDomain extracts the lowercase domain of an address, or "" when the
// address has no @.
func senderDomain(sender string) string {
	i := strings.LastIndex(sender, "@")
	if i < 0 || i == len(sender)-1 {
		return ""
	}
	return strings.ToLower(sender[i+1:])
}
