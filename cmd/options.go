package cmd

import (
	"go.uber.org/zap"

	"github.com/fakeyudi/viewtrack/internal/config"
	"github.com/fakeyudi/viewtrack/internal/delivery"
	"github.com/fakeyudi/viewtrack/internal/identity"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
	"github.com/fakeyudi/viewtrack/internal/viewer"
)

// viewerOptions maps the configuration onto the options of a viewer
// mounted for surface.
func viewerOptions(c config.Config, surface telemetry.Surface) viewer.Options {
	opts := viewer.DefaultOptions()

	opts.Telemetry.TickCap = c.TickCap.D()
	if c.AbsenceTimeout != nil {
		opts.Telemetry.AbsenceTimeout = c.AbsenceTimeout.D()
	}
	if c.RecordPausedSeeks != nil {
		opts.Telemetry.RecordPausedSeeks = *c.RecordPausedSeeks
	}
	if c.HeatmapGrid > 0 {
		opts.Telemetry.GridSize = c.HeatmapGrid
	}

	opts.Adapter.SelectionSettle = c.SelectionSettle.D()
	opts.Adapter.TouchThrottle = c.TouchThrottle.D()
	if c.JumpStep > 0 {
		opts.Adapter.JumpStep = c.JumpStep
	}

	if d := c.FlushIntervalFor(string(surface)); d > 0 {
		opts.Schedule.FlushInterval = d
	}
	if c.TickInterval > 0 {
		opts.Schedule.TickInterval = c.TickInterval.D()
	}
	if c.IdentifySettle > 0 {
		opts.Schedule.IdentifySettle = c.IdentifySettle.D()
	}
	if c.MinUserIDLength > 0 {
		opts.Schedule.MinUserIDLength = c.MinUserIDLength
	}
	if c.SkipFlushWhileHidden != nil {
		opts.Schedule.SkipWhileHidden = *c.SkipFlushWhileHidden
	}
	if c.RequestTimeout > 0 {
		opts.Schedule.RequestTimeout = c.RequestTimeout.D()
	}
	if c.FinalFlushTimeout > 0 {
		opts.FinalFlushTimeout = c.FinalFlushTimeout.D()
	}
	return opts
}

// deliveryConfig maps the configured endpoints onto a delivery client.
// Entries naming an unknown surface are ignored.
func deliveryConfig(c config.Config) delivery.Config {
	endpoints := make(map[telemetry.Surface]string, len(c.Endpoints.Telemetry))
	for name, url := range c.Endpoints.Telemetry {
		surface, err := telemetry.ParseSurface(name)
		if err != nil {
			log.Warn("ignoring telemetry endpoint for unknown surface", zap.String("surface", name))
			continue
		}
		endpoints[surface] = url
	}
	return delivery.Config{
		Telemetry: endpoints,
		Identify:  c.Endpoints.Identify,
		Timeout:   c.RequestTimeout.D(),
		Compress:  c.CompressRequests != nil && *c.CompressRequests,
		Payload:   delivery.PayloadOptions{HeatmapMinDwell: c.HeatmapMinDwell.D()},
	}
}

func resolverConfig(c config.Config, l *zap.Logger) identity.ResolverConfig {
	return identity.ResolverConfig{
		GeoEndpoint: c.Endpoints.Geo,
		Logger:      l,
	}
}
