package extension

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/lock"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/store/memory"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ENTITLE_STORE_TIMEOUT", "2s")
	t.Setenv("ENTITLE_DEMO_RATE_PER_MINUTE", "30")
	t.Setenv("ENTITLE_PAYTR_MERCHANT_KEY", "key")
	t.Setenv("ENTITLE_PAYTR_MERCHANT_SALT", "salt")
	t.Setenv("ENTITLE_DISABLE_MAINTENANCE", "true")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.InDelta(t, 30, cfg.DemoRatePerMinute, 0)
	assert.Equal(t, "key", cfg.PayTRMerchantKey)
	assert.True(t, cfg.DisableMaintenance)
	assert.Zero(t, cfg.MaintenanceInterval)
}

func TestLoadConfigFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("ENTITLE_STORE_TIMEOUT", "soon")

	_, err := LoadConfigFromEnv()
	assert.Error(t, err)
}

func TestMergeConfigurations(t *testing.T) {
	tests := []struct {
		name         string
		file         Config
		programmatic Config
		want         func(t *testing.T, cfg Config)
	}{
		{
			name: "defaults fill zeros",
			want: func(t *testing.T, cfg Config) {
				assert.Equal(t, DefaultConfig().StoreTimeout, cfg.StoreTimeout)
				assert.Equal(t, time.Hour, cfg.MaintenanceInterval)
				assert.Equal(t, "entitle:", cfg.LockPrefix)
			},
		},
		{
			name:         "file wins over programmatic",
			file:         Config{StoreTimeout: time.Second, RedisAddress: "redis:6379"},
			programmatic: Config{StoreTimeout: 3 * time.Second, RedisAddress: "other:6379"},
			want: func(t *testing.T, cfg Config) {
				assert.Equal(t, time.Second, cfg.StoreTimeout)
				assert.Equal(t, "redis:6379", cfg.RedisAddress)
			},
		},
		{
			name:         "programmatic fills gaps",
			file:         Config{StoreTimeout: time.Second},
			programmatic: Config{StripeWebhookSecret: "whsec", DisableMigrate: true, DemoMaxUsage: 3},
			want: func(t *testing.T, cfg Config) {
				assert.Equal(t, "whsec", cfg.StripeWebhookSecret)
				assert.True(t, cfg.DisableMigrate)
				assert.Equal(t, int64(3), cfg.DemoMaxUsage)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want(t, mergeConfigurations(tt.file, tt.programmatic))
		})
	}
}

func TestBuildEngineOptsRegistersConfiguredGateways(t *testing.T) {
	e := New(WithConfig(mergeWithDefaults(Config{
		StripeWebhookSecret: "whsec_test",
		PayTRMerchantKey:    "key",
		PayTRMerchantSalt:   "salt",
		IyzicoBaseURL:       "https://sandbox-api.iyzipay.com",
		DisableMaintenance:  true,
	})))

	eng := entitle.New(memory.New(), e.buildEngineOpts()...)

	assert.ElementsMatch(t,
		[]payment.Provider{payment.ProviderStripe, payment.ProviderPayTR},
		eng.Gateways().Providers(),
	)
}

func TestBuildEngineOptsAppliesSettingsOverrides(t *testing.T) {
	e := New(WithConfig(mergeWithDefaults(Config{
		DemoMaxUsage:       5,
		DisableMaintenance: true,
	})))

	eng := entitle.New(memory.New(), e.buildEngineOpts()...)
	settings, err := eng.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), settings.DemoMaxUsage)
	assert.Equal(t, entitle.DefaultSettings().TokenTTL, settings.TokenTTL)
}

func TestRedisLockerDrivesMaintenance(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rl, err := lock.DialRedis(ctx, lock.RedisConfig{Address: mr.Addr(), Prefix: "entitle:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rl.Close() })

	e := New(
		WithConfig(mergeWithDefaults(Config{DisableMaintenance: true})),
		WithLocker(rl),
	)
	eng := entitle.New(memory.New(), e.buildEngineOpts()...)
	require.NoError(t, eng.Start(ctx))
	t.Cleanup(func() { _ = eng.Stop() })

	release, ok, err := rl.TryAcquire(ctx, entitle.MaintenanceLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := eng.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	release()
	report, err = eng.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
}
