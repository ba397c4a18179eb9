package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/reenact/internal/engine"
	"github.com/rahul/reenact/internal/matcher"
	"github.com/rahul/reenact/internal/resolve"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsMatchPackageDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, engine.DefaultConfig(), cfg.EngineConfig())
	assert.Equal(t, resolve.DefaultConfig(), cfg.ResolveConfig())
	assert.Equal(t, matcher.DefaultConfig(), cfg.MatcherConfig())
	assert.Equal(t, 0.1, cfg.Engine.AgreementBonus)
	assert.Equal(t, 20.0, cfg.Engine.DedupeRadius)
	assert.Equal(t, 500*time.Millisecond, time.Duration(cfg.Engine.Settle))
	assert.Equal(t, 3, cfg.Engine.ChangeThreshold)
	assert.Equal(t, filepath.Join("workspace", "reenact.db"), cfg.Memory.Path)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"app": {"workspace": "/tmp/w"},
		"gateways": {
			"telegram": {"token": "t", "enabled": true, "allowed_chats": [42]},
			"discord": {"token": "", "enabled": true, "allowed_users": ["111"]}
		},
		"providers": {"openai": {"api_key": "k", "model": "gpt-4o", "enabled": true}},
		"engine": {"accept": 0.9, "step_budget": "45s", "backoff_base": 0.25},
		"backend": {"type": "browser", "headless": true},
		"policy": {"deny_actions": ["key_combo"]}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.9, cfg.Engine.Accept)
	assert.Equal(t, 0.5, cfg.Engine.Floor)
	assert.Equal(t, 45*time.Second, cfg.EngineConfig().StepBudget)
	assert.Equal(t, 250*time.Millisecond, cfg.EngineConfig().BackoffBase)
	assert.Equal(t, "/tmp/w/reenact.db", cfg.Memory.Path)
	assert.Equal(t, []string{"key_combo"}, cfg.Policy.DenyActions)

	tg, ok := cfg.Gateway("telegram")
	require.True(t, ok)
	assert.Equal(t, []int64{42}, tg.AllowedChats)
	_, ok = cfg.Gateway("discord")
	assert.False(t, ok, "enabled without a token")
	assert.Equal(t, []string{"111"}, cfg.Gateways["discord"].AllowedUsers)

	name, p := cfg.GetDefaultProvider()
	assert.Equal(t, "openai", name)
	assert.Equal(t, "gpt-4o", p.Model)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"engine": {"step_budget": "soon"}}`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"engin": {}}`))
	assert.Error(t, err)

	cfg, err := Load(writeConfig(t, `{"engine": {"accept": 0.4}}`))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	cfg, err = Load(writeConfig(t, `{"backend": {"type": "wayland"}}`))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}
