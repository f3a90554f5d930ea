// Package app wires the engine to its audio driver, transports, journal and
// telemetry for the command line entry points.
package app

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	"github.com/patchgraph/ingen/internal/buildinfo"
	"github.com/patchgraph/ingen/internal/conf"
	"github.com/patchgraph/ingen/internal/driver"
	"github.com/patchgraph/ingen/internal/driver/malgo"
	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/journal"
	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/observability"
	"github.com/patchgraph/ingen/internal/transport/httpapi"
	"github.com/patchgraph/ingen/internal/transport/mqtt"
)

const (
	component    = "app"
	sentryFlush  = 2 * time.Second
	activateWait = 10 * time.Second
)

func getLogger() logger.Logger {
	return logger.Global().Module(component)
}

// DriverFactory returns the live audio driver selected by settings
func DriverFactory(settings *conf.Settings) (driver.Factory, error) {
	e := settings.Engine
	switch settings.Driver.Type {
	case conf.DriverMalgo:
		return malgo.Factory(malgo.Config{
			DeviceName: settings.Driver.Device,
			SampleRate: e.SampleRate,
			BlockSize:  e.BlockSize,
			Channels:   settings.Driver.Channels,
		}, logger.Global().Module("driver")), nil
	case conf.DriverDummy:
		return driver.DummyFactory(e.SampleRate, e.BlockSize, settings.Driver.Channels), nil
	default:
		return nil, errors.Newf("driver %q cannot run live", settings.Driver.Type).
			Component(component).
			Category(errors.CategoryConfiguration).
			Context("hint", "use the render command for offline output").
			Build()
	}
}

// NewEngine builds an inactive engine on factory
func NewEngine(settings *conf.Settings, factory driver.Factory, m *observability.Metrics) (*engine.Engine, error) {
	opts := engine.Options{
		Settings: settings.Engine,
		Channels: settings.Driver.Channels,
		Driver:   factory,
		Logger:   logger.Global().Module("engine"),
	}
	if m != nil {
		opts.Metrics = m.Engine
	}
	return engine.New(opts)
}

// InitTelemetry installs the Sentry reporter when telemetry is enabled and
// returns a function flushing pending reports
func InitTelemetry(settings *conf.Settings) (func(), error) {
	if !settings.Telemetry.Enabled {
		return func() {}, nil
	}
	if err := errors.InitSentry(settings.Telemetry.SentryDSN, buildinfo.Current().Release()); err != nil {
		return nil, err
	}
	getLogger().Info("error reporting enabled")
	return func() { sentry.Flush(sentryFlush) }, nil
}

// Run activates the engine on the live driver and serves the enabled
// transports until ctx is done
func Run(ctx context.Context, settings *conf.Settings) error {
	flush, err := InitTelemetry(settings)
	if err != nil {
		return err
	}
	defer flush()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	factory, err := DriverFactory(settings)
	if err != nil {
		return err
	}
	e, err := NewEngine(settings, factory, m)
	if err != nil {
		return err
	}

	var store *journal.Store
	if settings.Journal.Enabled {
		store, err = journal.Open(settings.Journal.Path, m.Journal, logger.Global().Module("journal"))
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				getLogger().Warn("failed to close journal", logger.Error(err))
			}
		}()
	}

	actx, cancel := context.WithTimeout(ctx, activateWait)
	err = e.Activate(actx)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Deactivate(); err != nil {
			getLogger().Error("engine deactivation failed", logger.Error(err))
		}
	}()

	services, err := buildServices(settings, e, m, store)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Run(gctx) })
	for _, svc := range services {
		g.Go(func() error { return svc(gctx) })
	}

	getLogger().Info("ingen running",
		logger.String("driver", settings.Driver.Type),
		logger.Bool("http", settings.HTTP.Enabled),
		logger.Bool("mqtt", settings.MQTT.Enabled),
		logger.Bool("journal", settings.Journal.Enabled))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	getLogger().Info("shutting down")
	return nil
}

// buildServices constructs the enabled transports and the journal writer.
// Nothing runs until the returned functions are called.
func buildServices(settings *conf.Settings, e *engine.Engine, m *observability.Metrics, store *journal.Store) ([]func(context.Context) error, error) {
	var services []func(context.Context) error

	if store != nil {
		w := journal.NewWriter(store, e.Broadcaster(), journal.WriterConfig{
			BatchSize:     settings.Journal.BatchSize,
			FlushInterval: settings.Journal.FlushInterval,
			Retention:     settings.Journal.Retention,
		}, m.Journal)
		services = append(services, w.Run)
	}

	if settings.MQTT.Enabled {
		config := mqtt.ConfigFromSettings(settings.MQTT)
		client, err := mqtt.NewClient(config, m.MQTT, logger.Global().Module("mqtt"))
		if err != nil {
			return nil, err
		}
		pub := mqtt.NewPublisher(client, e.Broadcaster(), config, m.MQTT, logger.Global().Module("mqtt"))
		services = append(services, pub.Run)
	}

	if settings.HTTP.Enabled {
		opts := []httpapi.Option{httpapi.WithMetrics(m), httpapi.WithLogger(logger.Global().Module("http"))}
		if store != nil {
			opts = append(opts, httpapi.WithJournal(store))
		}
		srv, err := httpapi.New(e, settings.HTTP, opts...)
		if err != nil {
			return nil, err
		}
		services = append(services, srv.Run)
	}
	return services, nil
}
