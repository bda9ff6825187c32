package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fablecast/server/internal/models"
)

func seedRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	descriptors := []*models.ModelDescriptor{
		{
			ID: "gpt-strong", Provider: "openai", Tier: 1, Quality: 9, Speed: 5,
			CostPerToken: 0.03,
			Capabilities: []string{models.CapText, models.CapCreative, models.CapReasoning},
		},
		{
			ID: "mythos-12b", Provider: "local", Tier: 0, Quality: 7, Speed: 6,
			CostPerToken: 0,
			Capabilities: []string{models.CapText, models.CapCreative, models.CapUncensored},
		},
		{
			ID: "swift-3b", Provider: "local", Tier: 1, Quality: 5, Speed: 9,
			CostPerToken: 0.001,
			Capabilities: []string{models.CapText},
		},
		{
			ID: "coder-14b", Provider: "local", Tier: 1, Quality: 8, Speed: 6,
			CostPerToken: 0.01,
			Capabilities: []string{models.CapText, models.CapCoding},
		},
		{
			ID: "sonata-tts", Provider: "sovits", Tier: 1, Quality: 8, Speed: 7,
			CostPerToken: 0.002,
			Capabilities: []string{models.CapTTS},
		},
	}
	for _, d := range descriptors {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func TestRegisterGetUnregister(t *testing.T) {
	reg := seedRegistry(t)

	desc, err := reg.Get("gpt-strong")
	require.NoError(t, err)
	assert.Equal(t, 9, desc.Quality)

	require.NoError(t, reg.Unregister("gpt-strong"))
	_, err = reg.Get("gpt-strong")
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.Len(t, reg.List(Filter{}), 4)
}

func TestListFilters(t *testing.T) {
	reg := seedRegistry(t)

	creative := reg.List(Filter{Capability: models.CapCreative})
	require.Len(t, creative, 2)
	assert.Equal(t, "gpt-strong", creative[0].ID, "registration order preserved")

	tierZero := 0
	unrestricted := reg.List(Filter{Tier: &tierZero})
	require.Len(t, unrestricted, 1)
	assert.Equal(t, "mythos-12b", unrestricted[0].ID)

	reg.SetHealth("gpt-strong", false, 0)
	healthy := reg.List(Filter{Capability: models.CapCreative, HealthyOnly: true})
	require.Len(t, healthy, 1)
	assert.Equal(t, "mythos-12b", healthy[0].ID)
}

func TestGetBestModelDefaultsToQuality(t *testing.T) {
	rt := NewRouter(seedRegistry(t))

	desc, err := rt.GetBestModel(models.CapCreative, SelectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-strong", desc.ID)
}

func TestGetBestModelIsIdempotent(t *testing.T) {
	rt := NewRouter(seedRegistry(t))

	first, err := rt.GetBestModel(models.CapText, SelectOptions{Priority: PriorityQuality})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := rt.GetBestModel(models.CapText, SelectOptions{Priority: PriorityQuality})
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID, "identical state must yield an identical pick")
	}
}

func TestGetBestModelTieBreaksByRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&models.ModelDescriptor{
		ID: "twin-a", Quality: 6, Capabilities: []string{models.CapText},
	}))
	require.NoError(t, reg.Register(&models.ModelDescriptor{
		ID: "twin-b", Quality: 6, Capabilities: []string{models.CapText},
	}))
	rt := NewRouter(reg)

	desc, err := rt.GetBestModel(models.CapText, SelectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "twin-a", desc.ID)
}

func TestGetBestModelPrefersUncensoredTier(t *testing.T) {
	rt := NewRouter(seedRegistry(t))

	desc, err := rt.GetBestModel(models.CapCreative, SelectOptions{PreferUncensored: true})
	require.NoError(t, err)
	assert.Equal(t, "mythos-12b", desc.ID, "tier-0 wins over a higher-quality restricted model")
}

func TestGetBestModelUncensoredFallsBackToRestricted(t *testing.T) {
	reg := seedRegistry(t)
	rt := NewRouter(reg)
	reg.SetHealth("mythos-12b", false, 0)

	desc, err := rt.GetBestModel(models.CapCreative, SelectOptions{PreferUncensored: true})
	require.NoError(t, err)
	assert.Equal(t, "gpt-strong", desc.ID, "no healthy tier-0 candidate remains")
}

func TestGetBestModelSpeedPriority(t *testing.T) {
	reg := seedRegistry(t)
	rt := NewRouter(reg)
	reg.SetHealth("gpt-strong", true, 300*time.Millisecond)
	reg.SetHealth("mythos-12b", true, 100*time.Millisecond)
	reg.SetHealth("swift-3b", true, 50*time.Millisecond)
	reg.SetHealth("coder-14b", true, 150*time.Millisecond)
	reg.SetHealth("sonata-tts", true, 80*time.Millisecond)

	desc, err := rt.GetBestModel(models.CapText, SelectOptions{Priority: PrioritySpeed})
	require.NoError(t, err)
	assert.Equal(t, "swift-3b", desc.ID, "lowest observed latency wins")
}

func TestGetBestModelCostPriority(t *testing.T) {
	rt := NewRouter(seedRegistry(t))

	desc, err := rt.GetBestModel(models.CapText, SelectOptions{Priority: PriorityCost})
	require.NoError(t, err)
	assert.Equal(t, "mythos-12b", desc.ID)
}

func TestGetBestModelNoneAvailable(t *testing.T) {
	reg := seedRegistry(t)
	rt := NewRouter(reg)
	for _, d := range reg.List(Filter{}) {
		reg.SetHealth(d.ID, false, 0)
	}

	_, err := rt.GetBestModel(models.CapText, SelectOptions{})
	assert.ErrorIs(t, err, ErrNoModelAvailable)
}

func TestSelectModelDegradesToAnyHealthy(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&models.ModelDescriptor{
		ID: "sonata-tts", Quality: 8, Capabilities: []string{models.CapTTS},
	}))
	rt := NewRouter(reg)

	desc, err := rt.SelectModel(TaskCoding, SelectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "sonata-tts", desc.ID, "degrades past text to any healthy model")
}

func TestFallbackChainCreativeAdmitsOnlyTierZero(t *testing.T) {
	rt := NewRouter(seedRegistry(t))

	chain := rt.FallbackChain(TaskCreative)
	assert.Equal(t, []string{"mythos-12b"}, chain)
}

func TestFallbackChainOrderedByQuality(t *testing.T) {
	rt := NewRouter(seedRegistry(t))

	chain := rt.FallbackChain(TaskGeneral)
	assert.Equal(t, []string{"gpt-strong", "coder-14b", "mythos-12b", "swift-3b"}, chain)
}

func TestReportFailureStripsFromChains(t *testing.T) {
	reg := seedRegistry(t)
	rt := NewRouter(reg)

	require.Contains(t, rt.FallbackChain(TaskGeneral), "gpt-strong")
	rt.ReportFailure("gpt-strong")

	assert.NotContains(t, rt.FallbackChain(TaskGeneral), "gpt-strong")
	h, err := reg.Health("gpt-strong")
	require.NoError(t, err)
	assert.False(t, h.Healthy)

	desc, err := rt.NextInChain(TaskGeneral, RotationRoundRobin)
	require.NoError(t, err)
	assert.Equal(t, "coder-14b", desc.ID, "failover to the next chain member")
}

func TestReportSuccessRestoresChainMembership(t *testing.T) {
	reg := seedRegistry(t)
	rt := NewRouter(reg)

	rt.ReportFailure("gpt-strong")
	require.NotContains(t, rt.FallbackChain(TaskGeneral), "gpt-strong")

	rt.ReportSuccess("gpt-strong", 120*time.Millisecond)

	assert.Contains(t, rt.FallbackChain(TaskGeneral), "gpt-strong")
	h, err := reg.Health("gpt-strong")
	require.NoError(t, err)
	assert.True(t, h.Healthy)
	assert.Equal(t, 120*time.Millisecond, h.Latency)
	assert.Equal(t, int64(1), reg.Usage("gpt-strong"))
}

func TestNextInChainStrategies(t *testing.T) {
	reg := seedRegistry(t)
	rt := NewRouter(reg)

	desc, err := rt.NextInChain(TaskGeneral, RotationRoundRobin)
	require.NoError(t, err)
	assert.Equal(t, "gpt-strong", desc.ID, "first healthy in chain order")

	desc, err = rt.NextInChain(TaskGeneral, RotationQuality)
	require.NoError(t, err)
	assert.Equal(t, "gpt-strong", desc.ID)

	desc, err = rt.NextInChain(TaskGeneral, RotationSpeed)
	require.NoError(t, err)
	assert.Equal(t, "swift-3b", desc.ID, "highest speed score")

	reg.RecordUsage("gpt-strong")
	desc, err = rt.NextInChain(TaskGeneral, RotationAvailability)
	require.NoError(t, err)
	assert.Equal(t, "coder-14b", desc.ID, "least used, ties broken by chain order")
}

func TestNextInChainEmpty(t *testing.T) {
	rt := NewRouter(NewRegistry())
	_, err := rt.NextInChain(TaskGeneral, RotationRoundRobin)
	assert.ErrorIs(t, err, ErrNoModelAvailable)
}

type fakeProber struct {
	fail map[string]bool
	lat  time.Duration
}

func (p *fakeProber) Probe(ctx context.Context, id string) (time.Duration, error) {
	if p.fail[id] {
		return 0, errors.New("probe refused")
	}
	return p.lat, nil
}

func TestHealthMonitorIsolatesFailures(t *testing.T) {
	reg := seedRegistry(t)
	monitor := NewHealthMonitor(reg, &fakeProber{
		fail: map[string]bool{"swift-3b": true},
		lat:  40 * time.Millisecond,
	}, time.Minute, time.Second)

	monitor.CheckAll(context.Background())

	broken, err := reg.Health("swift-3b")
	require.NoError(t, err)
	assert.False(t, broken.Healthy)

	for _, id := range []string{"gpt-strong", "mythos-12b", "coder-14b", "sonata-tts"} {
		h, err := reg.Health(id)
		require.NoError(t, err)
		assert.True(t, h.Healthy, "%s must stay healthy", id)
		assert.Equal(t, 40*time.Millisecond, h.Latency)
	}
}
