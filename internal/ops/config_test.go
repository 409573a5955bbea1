package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/og"
	"hftcore/pkg/exception"
)

const sample = `{
  "instruments": [
    {"name": "ES", "tickSize": 0.25, "pointValue": 50},
    {"name": "NQ", "tickSize": 0.25, "pointValue": 20}
  ],
  "trading": {"instrument": "NQ", "quantity": 2},
  "signal": {"entryThreshold": 90, "exitThreshold": 0},
  "risk": {"version": 3, "maxOpenPositions": 2, "dailyLossLimit": 500},
  "ledger": {"stopTicks": 12},
  "sync": {"mode": "unified", "orphanWindow": 5000000000},
  "telemetry": {"redisAddr": "localhost:6379"},
  "features": {"enableJournal": false, "enableExitConsensus": false}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesOnDefaults(t *testing.T) {
	loaded, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 2, loaded.Registry.Count())
	assert.Equal(t, "NQ", loaded.Instrument.Name)
	assert.Equal(t, 20.0, loaded.Core.Ledger.PointValue)
	assert.Equal(t, 0.25, loaded.Core.Ledger.TickSize)
	assert.Equal(t, 12, loaded.Core.Ledger.StopTicks)
	assert.Equal(t, 16, loaded.Core.Ledger.TargetTicks, "unset fields keep defaults")
	assert.EqualValues(t, 2, loaded.Core.Quantity)
	assert.Equal(t, og.ModeUnified, loaded.Core.Sync.Mode)
	assert.Equal(t, 5*time.Second, loaded.Core.Sync.OrphanWindow)
	assert.False(t, loaded.Core.ExitOnConsensus)
	assert.True(t, loaded.Paper.Unified)

	assert.Equal(t, 90.0, loaded.Signal.EntryThreshold)
	assert.Equal(t, 1.5, loaded.Signal.DominanceRatio)
	assert.Equal(t, uint16(3), loaded.Risk.Version)
	assert.Equal(t, 500.0, loaded.Risk.DailyLossLimit)
	assert.Equal(t, "hftcore:positions", loaded.Telemetry.RedisChannel)

	assert.False(t, loaded.Features.EnableJournal)
	assert.True(t, loaded.Features.EnableTelemetry)
	assert.True(t, loaded.Features.EnableRecovery)
}

func TestDefault(t *testing.T) {
	loaded, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "ES", loaded.Instrument.Name)
	assert.Equal(t, og.ModeSplit, loaded.Core.Sync.Mode)
	assert.True(t, loaded.Core.ExitOnConsensus)
	assert.Equal(t, "data/journal", loaded.Journal.Dir)
	assert.Equal(t, 5000.0, loaded.Feed.Generator.BasePrice)
	assert.Equal(t, 250*time.Millisecond, loaded.Feed.Interval)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, exception.ErrConfigEmptyPath)

	cases := map[string]string{
		"syntax":     `{"trading": `,
		"instrument": `{"trading": {"instrument": "CL"}}`,
		"quantity":   `{"trading": {"quantity": -1}}`,
		"tick":       `{"instruments": [{"name": "ES", "tickSize": 0, "pointValue": 50}]}`,
		"mode":       `{"sync": {"mode": "both"}}`,
		"risk":       `{"risk": {"maxOpenPositions": -1}}`,
		"signal":     `{"signal": {"entryThreshold": -5}}`,
		"journal":    `{"journal": {"dir": ""}}`,
		"feed":       `{"feed": {"interval": -1}}`,
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.ErrorIs(t, err, exception.ErrConfigInvalid, name)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, sample)
	var got []Loaded
	w, err := NewWatcher(path, time.Second, func(l Loaded) { got = append(got, l) })
	require.NoError(t, err)

	reloaded, err := w.Check()
	require.NoError(t, err)
	assert.False(t, reloaded)

	require.NoError(t, os.WriteFile(path, []byte(`{"risk": {"version": 4, "killSwitch": true}}`), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	reloaded, err = w.Check()
	require.NoError(t, err)
	assert.True(t, reloaded)
	require.Len(t, got, 1)
	assert.True(t, got[0].Risk.KillSwitch)
	assert.Equal(t, uint16(4), got[0].Risk.Version)

	require.NoError(t, os.WriteFile(path, []byte(`{"risk": `), 0o644))
	later = later.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	_, err = w.Check()
	assert.ErrorIs(t, err, exception.ErrConfigInvalid)
	assert.Len(t, got, 1)
}
