package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("SEED_ADMIN_PASSWORD", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.SeedAdminPassword)
	assert.False(t, cfg.SeedDemo)
}

func TestLoadParsesListsAndFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ")
	t.Setenv("DRAFT_TTL_MINUTES", "-5")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "abc")
	t.Setenv("SEED_DEMO", "true")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("PORT", "9090")

	cfg := Load()
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 720, cfg.DraftTTLMinutes)
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
	assert.True(t, cfg.SeedDemo)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":9090", cfg.Address())
}
