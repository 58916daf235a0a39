package triage

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/oracle"
)

// oracleTimeout bounds one oracle call so a stalled backend never blocks
// the rest of the batch.
const oracleTimeout = 30 * time.Second

// defaultConfidenceMin is the floor below which a cheap-model result is
// escalated to the expensive tier.
const defaultConfidenceMin = 0.5

// Hooks are optional callbacks the triage core invokes for
// instrumentation. Nil fields are skipped.
type Hooks struct {
	OnIngest        func(connector, result string)
	OnClassify      func(tier Tier)
	OnOracleCall    func(name, outcome string, seconds float64)
	OnRuleMatch     func(kind TriggerKind)
	OnRuleLearned   func(source RuleSource)
	OnAction        func(action Action, result string)
	OnBatchResolved func(resolved, released int)
}

func (h Hooks) ingest(connector, result string) {
	if h.OnIngest != nil {
		h.OnIngest(connector, result)
	}
}

func (h Hooks) classify(tier Tier) {
	if h.OnClassify != nil {
		h.OnClassify(tier)
	}
}

func (h Hooks) oracleCall(name, outcome string, seconds float64) {
	if h.OnOracleCall != nil {
		h.OnOracleCall(name, outcome, seconds)
	}
}

func (h Hooks) ruleMatch(kind TriggerKind) {
	if h.OnRuleMatch != nil {
		h.OnRuleMatch(kind)
	}
}

func (h Hooks) ruleLearned(source RuleSource) {
	if h.OnRuleLearned != nil {
		h.OnRuleLearned(source)
	}
}

func (h Hooks) action(a Action, result string) {
	if h.OnAction != nil {
		h.OnAction(a, result)
	}
}

func (h Hooks) batchResolved(resolved, released int) {
	if h.OnBatchResolved != nil {
		h.OnBatchResolved(resolved, released)
	}
}

// Classifier is the tiered classification pipeline: rule tier, then cheap
// model, then expensive model. It is a ladder, not parallel attempts: each
// tier runs only when the one above produced nothing usable.
type Classifier struct {
	rules         *RuleCache
	cheap         oracle.Oracle
	deep          oracle.Oracle
	store         Store
	logger        log.Logger
	hooks         Hooks
	confidenceMin float64
}

// NewClassifier creates the pipeline. cheap and deep may be nil; a missing
// oracle is treated as permanently unavailable and the ladder falls
// through.
func NewClassifier(rules *RuleCache, cheap, deep oracle.Oracle, store Store, logger log.Logger, hooks Hooks) *Classifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Classifier{
		rules:         rules,
		cheap:         cheap,
		deep:          deep,
		store:         store,
		logger:        logger,
		hooks:         hooks,
		confidenceMin: defaultConfidenceMin,
	}
}

// SetConfidenceMin overrides the cheap-tier acceptance floor. Values
// outside (0, 1] keep the default.
func (c *Classifier) SetConfidenceMin(min float64) {
	if min > 0 && min <= 1 {
		c.confidenceMin = min
	}
}

// ClassifyOptions tune one classification.
type ClassifyOptions struct {
	// Deep skips the cheap tier and goes straight to the expensive model
	// (chat refinement, search).
	Deep bool

	// Direct marks direct-message / direct-mention style items, which
	// default to high priority.
	Direct bool
}

// Classify runs the ladder for one item. It never fails: when every tier
// comes up empty the item is still ingestible with tier none, priority
// normal. Oracle errors are logged and counted, not propagated.
func (c *Classifier) Classify(ctx context.Context, it *Item, opts ClassifyOptions) *Classification {
	L := c.logger.With("connector", string(it.Connector), "external_id", it.ExternalID)

	// Tier 1: rules.
	if cl := c.classifyByRule(ctx, L, it, opts); cl != nil {
		c.hooks.classify(cl.Tier)
		return cl
	}

	// Tier 2: cheap model, unless a deep pass was explicitly requested.
	var cheapResult *oracle.Result
	if !opts.Deep {
		cheapResult = c.callOracle(ctx, L, c.cheap, it)
		if cheapResult != nil && cheapResult.Confidence >= c.confidenceMin {
			cl := c.fromOracle(cheapResult, TierCheap, opts)
			c.hooks.classify(cl.Tier)
			return cl
		}
	}

	// Tier 3: expensive model, for deep requests, cheap-tier outage, or
	// low-confidence cheap results.
	if deepResult := c.callOracle(ctx, L, c.deep, it); deepResult != nil {
		cl := c.fromOracle(deepResult, TierExpensive, opts)
		c.hooks.classify(cl.Tier)
		return cl
	}

	// A low-confidence cheap answer still beats nothing when the expensive
	// tier is down.
	if cheapResult != nil {
		cl := c.fromOracle(cheapResult, TierCheap, opts)
		c.hooks.classify(cl.Tier)
		return cl
	}

	// Classification failure is never fatal to ingestion.
	cl := &Classification{
		Priority: defaultPriority(opts),
		Tier:     TierNone,
	}
	c.hooks.classify(cl.Tier)
	return cl
}

func (c *Classifier) classifyByRule(ctx context.Context, L log.Logger, it *Item, opts ClassifyOptions) *Classification {
	var rules []*Rule
	if c.rules != nil {
		var err error
		rules, err = c.rules.Rules(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load rules, skipping rule tier")
			return nil
		}
	}

	r := matchRule(ctx, L, rules, it)
	if r == nil {
		return nil
	}

	c.hooks.ruleMatch(r.Kind)
	if err := c.store.IncrementRuleMatch(ctx, r.ID); err != nil {
		// Losing a count is tolerable; the match itself is not.
		L.Warn(ctx, "failed to increment rule match count", "rule_id", r.ID, "error", err)
	}

	batchType := r.BatchType
	if batchType == BatchTypeIndividual {
		batchType = ""
	}
	return &Classification{
		Priority:  defaultPriority(opts),
		BatchType: batchType,
		Tier:      TierRule,
	}
}

// callOracle invokes one oracle with a bounded timeout. Returns nil on any
// failure; unavailability and malformed results are logged distinctly.
func (c *Classifier) callOracle(ctx context.Context, L log.Logger, o oracle.Oracle, it *Item) *oracle.Result {
	if o == nil {
		return nil
	}

	octx, cancel := context.WithTimeout(ctx, oracleTimeout)
	defer cancel()

	start := time.Now()
	res, err := o.Classify(octx, &oracle.Request{
		Connector:  string(it.Connector),
		Sender:     it.Sender,
		Subject:    it.Subject,
		Content:    it.Content,
		BatchTypes: c.knownBatchTypes(ctx),
	})
	dur := time.Since(start).Seconds()

	switch {
	case errors.Is(err, oracle.ErrUnavailable):
		c.hooks.oracleCall(o.Name(), "unavailable", dur)
		L.Warn(ctx, "oracle unavailable, falling through", "oracle", o.Name(), "error", err)
		return nil
	case err != nil:
		c.hooks.oracleCall(o.Name(), "error", dur)
		L.Error(ctx, err, "oracle call failed, falling through", "oracle", o.Name())
		return nil
	case res == nil:
		c.hooks.oracleCall(o.Name(), "empty", dur)
		return nil
	}

	c.hooks.oracleCall(o.Name(), "ok", dur)
	return res
}

func (c *Classifier) fromOracle(res *oracle.Result, tier Tier, opts ClassifyOptions) *Classification {
	cl := &Classification{
		Priority:  defaultPriority(opts),
		Tags:      res.Tags,
		BatchType: res.BatchType,
		Summary:   res.Summary,
		Entities:  res.Entities,
		Tier:      tier,
	}
	if p, ok := parsePriority(res.Priority); ok {
		cl.Priority = p
	}
	return cl
}

// knownBatchTypes collects batch types from the current rule set so the
// oracle can prefer an existing grouping over inventing a new one.
func (c *Classifier) knownBatchTypes(ctx context.Context) []string {
	if c.rules == nil {
		return nil
	}
	rules, err := c.rules.Rules(ctx)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var types []string
	for _, r := range rules {
		if r.BatchType == "" || r.BatchType == BatchTypeIndividual || seen[r.BatchType] {
			continue
		}
		seen[r.BatchType] = true
		types = append(types, r.BatchType)
	}
	return types
}

func defaultPriority(opts ClassifyOptions) Priority {
	if opts.Direct {
		return PriorityHigh
	}
	return PriorityNormal
}

func parsePriority(s string) (Priority, bool) {
	switch p := Priority(s); p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return p, true
	default:
		return "", false
	}
}
