package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rabby420bd/tj/repository"
	"github.com/rabby420bd/tj/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("PRICE_SOURCE", "")
	t.Setenv("ALLOWED_ORIGINS", " https://trendyjamakapor.com/ , ,http://localhost:5173")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "abc")
	t.Setenv("JWT_TTL", "")
	t.Setenv("AWS_USE_SECRETS", "")

	cfg, err := LoadConfig(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, services.PriceFromCart, cfg.PriceSource)
	assert.Equal(t, []string{"https://trendyjamakapor.com/", "http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.needsAWS())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("AWS_USE_SECRETS", "")

	t.Setenv("PRICE_SOURCE", "whatever")
	_, err := LoadConfig(context.Background())
	assert.Error(t, err)

	t.Setenv("PRICE_SOURCE", "catalog")
	t.Setenv("JWT_TTL", "soon")
	_, err = LoadConfig(context.Background())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{StoreDriver: DriverPostgres, JWTSecret: "s", AdminEmail: "a@b.c", AdminPasswordHash: "h"}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.StoreDriver = "sqlite"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.JWTSecret = ""
	assert.Error(t, bad.Validate())

	bad = valid
	bad.AdminPasswordHash = ""
	assert.Error(t, bad.Validate())
}

func TestApplySecrets(t *testing.T) {
	cfg := &Config{JWTSecret: "from-env"}
	cfg.Postgres.User = "env-user"

	cfg.applySecrets(map[string]string{
		"JWT_SECRET":        "from-secrets",
		"POSTGRES_PASSWORD": "pw",
		"POSTGRES_USER":     "  ",
		"UNRELATED":         "x",
	})

	assert.Equal(t, "from-secrets", cfg.JWTSecret)
	assert.Equal(t, "pw", cfg.Postgres.Password)
	assert.Equal(t, "env-user", cfg.Postgres.User)
}

func TestNeedsAWS(t *testing.T) {
	assert.True(t, (&Config{StoreDriver: DriverDynamoDB}).needsAWS())
	assert.True(t, (&Config{StoreDriver: DriverMemory, S3Bucket: "images"}).needsAWS())
	assert.True(t, (&Config{StoreDriver: DriverMemory, CloudWatchEnabled: true}).needsAWS())
	assert.False(t, (&Config{StoreDriver: DriverMongo}).needsAWS())
}

func TestSeedCatalogIsIdempotent(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	n, err := seedCatalog(context.Background(), store, now)
	require.NoError(t, err)
	assert.Equal(t, len(demoCatalog), n)

	n, err = seedCatalog(context.Background(), store, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	p, err := store.FindProductByID(context.Background(), "demo-eid-panjabi")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock["42"])
	assert.Equal(t, now, p.CreatedAt)
}

func TestHashPasswordCommand(t *testing.T) {
	var out bytes.Buffer
	hashPasswordCmd.SetOut(&out)
	require.NoError(t, hashPasswordCmd.RunE(hashPasswordCmd, []string{"s3cret"}))

	hash := bytes.TrimSpace(out.Bytes())
	assert.NoError(t, bcrypt.CompareHashAndPassword(hash, []byte("s3cret")))
}
