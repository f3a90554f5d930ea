package errors

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTestSentinel = New(nil).
	Component("test").
	Category(CategoryNotFound).
	Build()

func TestBuildDefaults(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestSentinelMatching(t *testing.T) {
	t.Parallel()

	wrapped := New(errTestSentinel).
		Component("engine").
		Context("path", "/missing").
		Build()

	assert.ErrorIs(t, wrapped, errTestSentinel)
	assert.True(t, IsNotFound(wrapped), "category should be inherited from the sentinel")
	assert.Equal(t, "/missing", wrapped.GetContext()["path"])

	other := New(nil).Component("test").Category(CategoryNotFound).Build()
	assert.ErrorIs(t, other, errTestSentinel, "sentinels with same component and category match")

	different := New(nil).Component("test").Category(CategoryConflict).Build()
	assert.NotErrorIs(t, different, errTestSentinel)
}

func TestSentinelMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "test: not-found", errTestSentinel.Error())
	assert.Equal(t, "generic", New(nil).Build().Error())
}

func TestPriorityFallback(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("x")).Priority("bogus").Build()
	assert.Equal(t, PriorityMedium, ee.Priority)

	ee = New(fmt.Errorf("x")).Priority(PriorityCritical).Build()
	assert.Equal(t, PriorityCritical, ee.Priority)
}

func TestScrubMessageForPrivacy(t *testing.T) {
	t.Parallel()

	scrubbed := scrubMessageForPrivacy("Error at https://api.example.com?api_key=secret123&token=abc")
	assert.Equal(t, "Error at https://api.example.com?[REDACTED]", scrubbed)

	scrubbed = scrubMessageForPrivacy("mqtt password=hunter2 rejected")
	assert.NotContains(t, scrubbed, "hunter2")
}

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestTelemetryReporting(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	_ = New(nil).Component("x").Build()
	assert.Empty(t, reporter.reported, "sentinels are never reported")

	ee := New(fmt.Errorf("driver failed")).Category(CategoryAudioDriver).Build()
	require.Len(t, reporter.reported, 1)
	assert.Same(t, ee, reporter.reported[0])
	assert.True(t, ee.IsReported())
}

func TestSentryReporterCapturesEvent(t *testing.T) {
	transport := &captureTransport{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:       "https://public@example.com/1",
		Transport: transport,
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())

	reporter := NewSentryReporter(true, hub)
	ee := New(fmt.Errorf("device busy")).
		Component("driver").
		Category(CategoryAudioDriver).
		Context("operation", "activate_device").
		Build()

	reporter.ReportError(ee)
	require.Len(t, transport.events, 1)
	assert.Equal(t, "Driver Audio Driver Error Activate Device", transport.events[0].Exception[0].Type)
	assert.True(t, ee.IsReported())

	// Already reported errors are skipped
	reporter.ReportError(ee)
	assert.Len(t, transport.events, 1)
}

// captureTransport implements sentry.Transport for testing
type captureTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *captureTransport) Configure(_ sentry.ClientOptions) {}

func (t *captureTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *captureTransport) Flush(_ time.Duration) bool { return true }

func (t *captureTransport) FlushWithContext(_ context.Context) bool { return true }

func (t *captureTransport) Close() {}
