package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	assert.Equal(t, "0.0.0.0:5000", cfg.GetString("server.listen_address"))
	assert.Equal(t, "memory", cfg.GetString("cache.type"))
	assert.True(t, cfg.GetBool("cache.enabled"))
	assert.Equal(t, 20, cfg.GetInt("sync.message_count"))

	ttl, err := cfg.GetDuration("cache.ttl")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ttl)
}

func TestTypedSections(t *testing.T) {
	v := NewEmptyViper()
	v.Set("classifier.command", "python3")
	v.Set("classifier.script_path", "/opt/ml/classify.py")
	v.Set("graph.tenant_id", "contoso")
	cfg := NewFromViper(v)

	cls := cfg.GetClassifier()
	assert.Equal(t, "subprocess", cls.Type)
	assert.Equal(t, "/opt/ml/classify.py", cls.ScriptPath)
	assert.Equal(t, 4096, cls.MaxBodySize)

	g := cfg.GetGraph()
	assert.Equal(t, "contoso", g.TenantID)
	assert.Equal(t, "http://localhost:5000/api/auth/graph/callback", g.RedirectURI)
}
