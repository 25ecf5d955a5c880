package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkinglens/backend/internal/domain/prd"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	ResetDataDir()
	defer ResetDataDir()

	cfg := NewConfig()
	assert.Equal(t, ":17320", cfg.Server.HTTPPort)
	assert.Equal(t, ":17321", cfg.Server.MCPPort)
	assert.InDelta(t, 0.8, cfg.Workflow.CompletionThreshold, 0.001)
	assert.Equal(t, 5, cfg.Workflow.WindowSize)
	assert.NoError(t, cfg.Validate())
}

func TestNewConfig_EnvOverride(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvHTTPPort, ":29960")
	t.Setenv(EnvOracleModel, "gpt-4o-mini")
	ResetDataDir()
	defer ResetDataDir()

	cfg := NewConfig()
	assert.Equal(t, ":29960", cfg.Server.HTTPPort)
	assert.Equal(t, "gpt-4o-mini", cfg.Oracle.Model)
	assert.Equal(t, ":17321", cfg.Server.MCPPort, "未设置的端口应使用默认值")
}

func TestConfig_Validate(t *testing.T) {
	cfg := defaultConfig()
	cfg.Workflow.CompletionThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Workflow.ContextBudgetTokens = 100
	assert.Error(t, cfg.Validate(), "上下文预算必须容得下摘要与快照预算")
}

func TestDefaultTemplate_Acyclic(t *testing.T) {
	tpl := DefaultTemplate()

	// 所有依赖引用的 key 必须存在
	for _, st := range tpl.Sections {
		for _, dep := range st.Dependencies {
			_, ok := tpl.Find(dep)
			assert.True(t, ok, "section %s references unknown dependency %s", st.Key, dep)
		}
	}

	// 全量纳入时依赖必须无环
	full := *tpl
	for i := range full.Sections {
		full.Sections[i].Mandatory = true
	}
	_, err := prd.NewRegistry(&full, "")
	require.NoError(t, err)
}

func TestLoadTemplate_DefaultWhenMissing(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	ResetDataDir()
	defer ResetDataDir()

	tpl, err := LoadTemplate()
	require.NoError(t, err)
	assert.Equal(t, len(DefaultTemplate().Sections), len(tpl.Sections))
}
