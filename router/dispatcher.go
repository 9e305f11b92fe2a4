package router

import "strings"

// TierRange is an inclusive [Min, Max] weight band mapping to one tier.
type TierRange struct {
	Tier Tier
	Min  int
	Max  int
}

// DefaultTierRanges matches the worked example in spec.md §7:
// haiku=[1,3], sonnet=[4,7], opus=[8,10].
func DefaultTierRanges() []TierRange {
	return []TierRange{
		{Tier: TierHaiku, Min: 1, Max: 3},
		{Tier: TierSonnet, Min: 4, Max: 7},
		{Tier: TierOpus, Min: 8, Max: 10},
	}
}

// Dispatcher maps an Evaluator weight to a model tier via configured
// inclusive ranges, and renders the executor prompt template.
type Dispatcher struct {
	ranges       []TierRange
	defaultTier  Tier
	tierModels   map[Tier]string
	promptTmpl   string
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTierRanges overrides the default haiku/sonnet/opus bands.
func WithTierRanges(ranges []TierRange) DispatcherOption {
	return func(d *Dispatcher) { d.ranges = ranges }
}

// WithTierModels maps each tier to the concrete model identifier an
// executor call should use (e.g. TierHaiku -> "anthropic/claude-haiku-4-5").
func WithTierModels(models map[Tier]string) DispatcherOption {
	return func(d *Dispatcher) { d.tierModels = models }
}

// WithPromptTemplate overrides the default executor prompt template.
// Recognized placeholders: {task}, {context}, {issuer}, {constraints}.
func WithPromptTemplate(tmpl string) DispatcherOption {
	return func(d *Dispatcher) { d.promptTmpl = tmpl }
}

const defaultPromptTemplate = "Issuer: {issuer}\nTask: {task}\nContext: {context}\nConstraints: {constraints}"

// NewDispatcher builds a Dispatcher with the spec's worked-example tier
// ranges and a sonnet default for out-of-range weights, unless overridden.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ranges:      DefaultTierRanges(),
		defaultTier: TierSonnet,
		promptTmpl:  defaultPromptTemplate,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SelectTier maps weight to a tier via d.ranges, falling back to
// d.defaultTier (sonnet) when weight falls outside every configured range.
func (d *Dispatcher) SelectTier(weight int) Tier {
	for _, r := range d.ranges {
		if weight >= r.Min && weight <= r.Max {
			return r.Tier
		}
	}
	return d.defaultTier
}

// ModelFor returns the concrete model identifier configured for tier, or
// the tier name itself if no mapping was supplied.
func (d *Dispatcher) ModelFor(tier Tier) string {
	if model, ok := d.tierModels[tier]; ok {
		return model
	}
	return string(tier)
}

// RenderPrompt fills d.promptTmpl's placeholders with payload fields and
// the job's issuer.
func (d *Dispatcher) RenderPrompt(p Payload, issuer string) string {
	r := strings.NewReplacer(
		"{task}", p.Task,
		"{context}", p.Context,
		"{issuer}", issuer,
		"{constraints}", p.Constraints,
	)
	return r.Replace(d.promptTmpl)
}
