package anthropicclaude

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDeployment(t *testing.T) {
	catalog := NewCatalog(DefaultCatalogConfig())

	tests := []struct {
		model string
		want  string
	}{
		{"", DefaultDeployment},
		{"gpt-4", DefaultDeployment},
		{"gpt-4o-mini", DefaultDeployment},
		{"claude-opus-4", "claude-opus-4-6"},
		{"CLAUDE-OPUS", "claude-opus-4-6"},
		{"claude-3-5-haiku-latest", "claude-haiku-3-5"},
		{"my-haiku-alias", "claude-haiku-3-5"},
		{"sonnet", "claude-sonnet-4-6"},
		{"claude-3", "claude-sonnet-4-6"},
		{"claude-sonnet-4-thinking", "claude-sonnet-4-6"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, catalog.ResolveDeployment(tt.model))
		})
	}
}

func TestResolveDeploymentCustomTiers(t *testing.T) {
	catalog := NewCatalog(CatalogConfig{
		Tiers: []Tier{
			{Keyword: "Fast", Deployment: "haiku-prod", MaxOutputTokens: 4096},
			{Keyword: "smart", Deployment: "opus-prod"},
		},
		DefaultDeployment: "opus-prod",
	})

	assert.Equal(t, "haiku-prod", catalog.ResolveDeployment("my-fast-model"))
	assert.Equal(t, "opus-prod", catalog.ResolveDeployment("smart"))
	assert.Equal(t, "opus-prod", catalog.ResolveDeployment("gpt-4"))
	assert.Equal(t, int64(4096), catalog.MaxOutputTokens("haiku-prod"))
	assert.Equal(t, DefaultMaxOutputTokens, catalog.MaxOutputTokens("opus-prod"))
	assert.Equal(t, []string{"haiku-prod", "opus-prod"}, catalog.Deployments())
}

func TestResolveMaxTokens(t *testing.T) {
	catalog := NewCatalog(DefaultCatalogConfig())

	tests := []struct {
		name       string
		requested  int64
		deployment string
		thinking   bool
		want       int64
	}{
		{"unset is raised to floor", 0, "claude-sonnet-4-6", false, DefaultMinOutputTokens},
		{"small is raised to floor", 100, "claude-sonnet-4-6", false, DefaultMinOutputTokens},
		{"within range is kept", 20000, "claude-sonnet-4-6", false, 20000},
		{"capped at deployment ceiling", 100000, "claude-sonnet-4-6", false, 64000},
		{"ceiling below floor wins", 100, "claude-haiku-3-5", false, 8192},
		{"unknown deployment uses default ceiling", 90000, "custom", false, DefaultMaxOutputTokens},
		{"thinking ignores request", 100, "claude-haiku-3-5", true, DefaultThinkingMaxOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, catalog.ResolveMaxTokens(tt.requested, tt.deployment, tt.thinking))
		})
	}
}

func TestThinkingEnabled(t *testing.T) {
	catalog := NewCatalog(DefaultCatalogConfig())

	assert.True(t, catalog.ThinkingEnabled("claude-sonnet-thinking"))
	assert.True(t, catalog.ThinkingEnabled("THINK-fast"))
	assert.False(t, catalog.ThinkingEnabled("claude-sonnet"))
	assert.Equal(t, DefaultThinkingBudget, catalog.ThinkingBudget())
}

func TestDeploymentsDefault(t *testing.T) {
	catalog := NewCatalog(DefaultCatalogConfig())

	assert.Equal(t, []string{"claude-opus-4-6", "claude-sonnet-4-6", "claude-haiku-3-5"}, catalog.Deployments())
}

func TestNewCatalogCopiesTiers(t *testing.T) {
	tiers := []Tier{{Keyword: "opus", Deployment: "a"}}
	catalog := NewCatalog(CatalogConfig{Tiers: tiers})

	tiers[0].Deployment = "mutated"
	assert.Equal(t, "a", catalog.ResolveDeployment("opus"))

	got := catalog.Tiers()
	got[0].Deployment = "mutated"
	assert.Equal(t, "a", catalog.ResolveDeployment("opus"))
}

func TestResolveDeploymentVendorFallback(t *testing.T) {
	catalog := NewCatalog(CatalogConfig{
		Tiers: []Tier{
			{Keyword: "opus", Deployment: "opus-prod"},
			{Keyword: "Sonnet", Deployment: "sonnet-prod"},
		},
		DefaultDeployment: "default-prod",
	})

	assert.Equal(t, "sonnet-prod", catalog.ResolveDeployment("claude-instant"))
	assert.Equal(t, "opus-prod", catalog.ResolveDeployment("claude-opus"))
	assert.Equal(t, "default-prod", catalog.ResolveDeployment("gpt-4"))

	withoutMid := NewCatalog(CatalogConfig{
		Tiers:             []Tier{{Keyword: "opus", Deployment: "opus-prod"}},
		DefaultDeployment: "default-prod",
	})
	assert.Equal(t, "default-prod", withoutMid.ResolveDeployment("claude-instant"))
}

func TestResolveReasoningMaxTokens(t *testing.T) {
	catalog := NewCatalog(DefaultCatalogConfig())

	assert.Equal(t, 1024+DefaultMinOutputTokens, catalog.ResolveReasoningMaxTokens(0, 1024, "claude-sonnet-4-6"))
	assert.Equal(t, int64(50000), catalog.ResolveReasoningMaxTokens(50000, 1024, "claude-sonnet-4-6"))
	assert.Equal(t, int64(32000), catalog.ResolveReasoningMaxTokens(0, 24576, "claude-opus-4-6"))
	assert.Equal(t, int64(8192), catalog.ResolveReasoningMaxTokens(1000, 1024, "claude-haiku-3-5"))
}

func TestSupportsThinking(t *testing.T) {
	catalog := NewCatalog(DefaultCatalogConfig())

	assert.True(t, catalog.SupportsThinking("claude-sonnet-4-6"))
	assert.True(t, catalog.SupportsThinking("custom"))
	assert.False(t, catalog.SupportsThinking("claude-haiku-3-5"))
}
