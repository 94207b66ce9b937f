package anthropicclaude

import (
	"strings"
)

// Tier names of the alias table.
const (
	TierOpus   = "opus"
	TierSonnet = "sonnet"
	TierHaiku  = "haiku"
)

// Defaults of the deployment catalog.
const (
	DefaultDeployment              = "claude-sonnet-4-6"
	DefaultVendorKeyword           = "claude"
	DefaultMaxOutputTokens   int64 = 64000
	DefaultMinOutputTokens   int64 = 16384
	DefaultThinkingMaxOutput int64 = 128000
	DefaultThinkingBudget    int64 = 10000

	// MinThinkingBudget is the smallest budget_tokens Anthropic accepts.
	MinThinkingBudget int64 = 1024
)

// Tier maps a family keyword to a deployment and its output ceiling.
type Tier struct {
	Keyword         string
	Deployment      string
	MaxOutputTokens int64
	// DisableThinking marks deployments without extended thinking; reasoning_effort is ignored for them.
	DisableThinking bool
}

// CatalogConfig configures model routing and token policy.
type CatalogConfig struct {
	// Tiers are matched in order; the first keyword found in the model name wins.
	Tiers []Tier

	// VendorKeyword routes otherwise unmatched names by tier keyword.
	VendorKeyword string

	DefaultDeployment       string
	DefaultMaxOutputTokens  int64
	MinOutputTokens         int64
	ThinkingMaxOutputTokens int64
	ThinkingBudgetTokens    int64
	ThinkingKeywords        []string
}

// DefaultTiers returns the built-in alias table.
func DefaultTiers() []Tier {
	return []Tier{
		{Keyword: TierOpus, Deployment: "claude-opus-4-6", MaxOutputTokens: 32000},
		{Keyword: TierSonnet, Deployment: "claude-sonnet-4-6", MaxOutputTokens: 64000},
		{Keyword: TierHaiku, Deployment: "claude-haiku-3-5", MaxOutputTokens: 8192, DisableThinking: true},
	}
}

// DefaultCatalogConfig returns the built-in routing and token policy.
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Tiers:                   DefaultTiers(),
		VendorKeyword:           DefaultVendorKeyword,
		DefaultDeployment:       DefaultDeployment,
		DefaultMaxOutputTokens:  DefaultMaxOutputTokens,
		MinOutputTokens:         DefaultMinOutputTokens,
		ThinkingMaxOutputTokens: DefaultThinkingMaxOutput,
		ThinkingBudgetTokens:    DefaultThinkingBudget,
		ThinkingKeywords:        []string{"thinking", "think"},
	}
}

// Catalog resolves client model names to deployments and output budgets.
// It is immutable after NewCatalog and safe for concurrent use.
type Catalog struct {
	cfg        CatalogConfig
	ceilingFor map[string]int64
	noThinking map[string]bool
}

// NewCatalog builds a catalog. Unset numeric fields and keywords fall back to defaults.
func NewCatalog(cfg CatalogConfig) *Catalog {
	defaults := DefaultCatalogConfig()
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = defaults.Tiers
	} else {
		cfg.Tiers = append([]Tier(nil), cfg.Tiers...)
	}
	if cfg.VendorKeyword == "" {
		cfg.VendorKeyword = defaults.VendorKeyword
	}
	if cfg.DefaultDeployment == "" {
		cfg.DefaultDeployment = defaults.DefaultDeployment
	}
	if cfg.DefaultMaxOutputTokens <= 0 {
		cfg.DefaultMaxOutputTokens = defaults.DefaultMaxOutputTokens
	}
	if cfg.MinOutputTokens <= 0 {
		cfg.MinOutputTokens = defaults.MinOutputTokens
	}
	if cfg.ThinkingMaxOutputTokens <= 0 {
		cfg.ThinkingMaxOutputTokens = defaults.ThinkingMaxOutputTokens
	}
	if cfg.ThinkingBudgetTokens <= 0 {
		cfg.ThinkingBudgetTokens = defaults.ThinkingBudgetTokens
	}
	if len(cfg.ThinkingKeywords) == 0 {
		cfg.ThinkingKeywords = defaults.ThinkingKeywords
	}
	cfg.VendorKeyword = strings.ToLower(cfg.VendorKeyword)

	c := &Catalog{
		cfg:        cfg,
		ceilingFor: make(map[string]int64, len(cfg.Tiers)),
		noThinking: make(map[string]bool),
	}
	for i, t := range cfg.Tiers {
		t.Keyword = strings.ToLower(t.Keyword)
		cfg.Tiers[i] = t
		if t.MaxOutputTokens > 0 {
			c.ceilingFor[t.Deployment] = t.MaxOutputTokens
		}
		if t.DisableThinking {
			c.noThinking[t.Deployment] = true
		}
	}
	return c
}

// ResolveDeployment maps a free-form model name to a deployment.
//
// A tier keyword anywhere in the name wins, in table order. Otherwise a name
// mentioning the vendor gets the sonnet tier. Anything else gets the default
// deployment.
func (c *Catalog) ResolveDeployment(model string) string {
	lower := strings.ToLower(model)
	if lower == "" {
		return c.cfg.DefaultDeployment
	}

	for _, t := range c.cfg.Tiers {
		if t.Keyword != "" && strings.Contains(lower, t.Keyword) {
			return t.Deployment
		}
	}

	if strings.Contains(lower, c.cfg.VendorKeyword) {
		for _, t := range c.cfg.Tiers {
			if t.Keyword == TierSonnet {
				return t.Deployment
			}
		}
	}

	return c.cfg.DefaultDeployment
}

// ThinkingEnabled reports whether the model name asks for extended reasoning.
func (c *Catalog) ThinkingEnabled(model string) bool {
	lower := strings.ToLower(model)
	for _, keyword := range c.cfg.ThinkingKeywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// ThinkingBudget returns the reasoning token allotment used in thinking mode.
func (c *Catalog) ThinkingBudget() int64 {
	return c.cfg.ThinkingBudgetTokens
}

// MaxOutputTokens returns the output ceiling of a deployment.
func (c *Catalog) MaxOutputTokens(deployment string) int64 {
	if ceiling, ok := c.ceilingFor[deployment]; ok {
		return ceiling
	}
	return c.cfg.DefaultMaxOutputTokens
}

// SupportsThinking reports whether extended thinking may be requested from a deployment.
func (c *Catalog) SupportsThinking(deployment string) bool {
	return !c.noThinking[deployment]
}

// ResolveReasoningMaxTokens sizes a reasoning_effort request: the floor stays
// available for the answer on top of the budget, capped at the deployment ceiling.
func (c *Catalog) ResolveReasoningMaxTokens(requested, budget int64, deployment string) int64 {
	return min(max(requested, budget+c.cfg.MinOutputTokens), c.MaxOutputTokens(deployment))
}

// ResolveMaxTokens applies the token policy: the request is raised to the floor and
// capped at the deployment ceiling. Thinking mode ignores the request entirely.
func (c *Catalog) ResolveMaxTokens(requested int64, deployment string, thinking bool) int64 {
	if thinking {
		return c.cfg.ThinkingMaxOutputTokens
	}
	return min(max(requested, c.cfg.MinOutputTokens), c.MaxOutputTokens(deployment))
}

// Deployments returns the distinct deployments of the alias table, in table order.
func (c *Catalog) Deployments() []string {
	seen := make(map[string]struct{}, len(c.cfg.Tiers)+1)
	var out []string
	add := func(d string) {
		if _, ok := seen[d]; ok || d == "" {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	for _, t := range c.cfg.Tiers {
		add(t.Deployment)
	}
	add(c.cfg.DefaultDeployment)
	return out
}

// Tiers returns a copy of the alias table.
func (c *Catalog) Tiers() []Tier {
	return append([]Tier(nil), c.cfg.Tiers...)
}
