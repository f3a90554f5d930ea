package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchgraph/ingen/internal/conf"
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/logger"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	return &conf.Settings{
		Engine: conf.EngineSettings{
			SampleRate:          8000,
			BlockSize:           64,
			EventBufferSize:     1024,
			QueueSize:           64,
			MaidCapacity:        64,
			MaidInterval:        5 * time.Millisecond,
			PostProcessInterval: time.Millisecond,
			Polyphony:           1,
			MIDIBufferSize:      1024,
		},
		Driver: conf.DriverSettings{Type: conf.DriverDummy, Channels: 2},
		Render: conf.RenderSettings{Path: filepath.Join(t.TempDir(), "out", "render.wav"), Seconds: 0.1},
		HTTP:   conf.HTTPSettings{Listen: "127.0.0.1:0", RequestTimeout: time.Second},
		Logging: logger.LoggingConfig{
			DefaultLevel: "error",
		},
	}
}

const sineScript = `
requests:
  - kind: create_node
    path: /osc
    plugin: urn:ingen:sine
  - kind: connect
    path: /osc/out
    dst: /out_1
  - kind: set_port_value_stamped
    path: /osc/freq
    value: 220
    time: 0
`

func TestParseScript(t *testing.T) {
	t.Parallel()

	s, err := ParseScript([]byte(sineScript))
	require.NoError(t, err)
	require.Len(t, s.Requests, 3)
	assert.Equal(t, "create_node", s.Requests[0].Kind)
	assert.Equal(t, "/out_1", s.Requests[1].Dst)
	require.NotNil(t, s.Requests[2].Time)
	assert.Equal(t, uint64(0), *s.Requests[2].Time)

	_, err = ParseScript([]byte("requests: [oops"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = LoadScript(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestRenderWritesScriptOutput(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	script, err := ParseScript([]byte(sineScript))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := Render(ctx, settings, script)
	require.NoError(t, err)

	assert.Equal(t, uint64(800), res.Frames)
	assert.Equal(t, 3, res.Requests)
	assert.Empty(t, res.Failed)
	assert.Greater(t, res.Peak, float32(0.1))

	f, err := os.Open(settings.Render.Path)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 2, buf.Format.NumChannels)
	assert.Equal(t, 8000, buf.Format.SampleRate)
	assert.Len(t, buf.Data, 1600)
}

func TestRenderReportsFailedRequests(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	script, err := ParseScript([]byte(`
requests:
  - kind: set_port_value
    path: /nowhere/in
    value: 1
`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := Render(ctx, settings, script)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0], "not found")
	assert.Zero(t, res.Peak)
}

func TestRenderRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Render(ctx, testSettings(t), &Script{Requests: nil})
	require.NoError(t, err)

	script, err := ParseScript([]byte("requests:\n  - kind: teleport\n"))
	require.NoError(t, err)
	_, err = Render(ctx, testSettings(t), script)
	require.Error(t, err)
}

func TestDriverFactory(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	f, err := DriverFactory(settings)
	require.NoError(t, err)
	require.NotNil(t, f)

	settings.Driver.Type = conf.DriverWAV
	_, err = DriverFactory(settings)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestInitTelemetryDisabled(t *testing.T) {
	t.Parallel()

	flush, err := InitTelemetry(testSettings(t))
	require.NoError(t, err)
	flush()
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.HTTP.Enabled = true
	settings.Journal = conf.JournalSettings{
		Enabled:       true,
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		BatchSize:     8,
		FlushInterval: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, settings) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}
	_, err := os.Stat(settings.Journal.Path)
	assert.NoError(t, err)
}
