package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mtraver/rc-thermometer/session"
	"github.com/mtraver/rc-thermometer/station"
)

// The gRPC health service name that tracks whether the thermometer can take readings.
const healthService = "thermometer"

// healthJob runs a SenseJob and reports through the health server whether the sensor
// is working. Failing to publish a reading doesn't make the thermometer unhealthy.
type healthJob struct {
	station.SenseJob
	Health *health.Server
}

func (j healthJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
	defer cancel()

	_, err := j.Sense(ctx)
	if err != nil {
		j.Logger.Error("live reading failed", "err", err)
	}

	status := healthpb.HealthCheckResponse_SERVING
	if errors.Is(err, station.ErrSensor) {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	j.Health.SetServingStatus(healthService, status)
}

// sessionHook hands a finished session to one destination.
type sessionHook struct {
	name string
	save func(ctx context.Context, res session.Result) error
}

// runHooks hands res to every hook, each with its own timeout.
func runHooks(ctx context.Context, logger *slog.Logger, hooks []sessionHook, timeout time.Duration, res session.Result) {
	for _, h := range hooks {
		hctx, cancel := context.WithTimeout(ctx, timeout)
		if err := h.save(hctx, res); err != nil {
			logger.Error("failed to save session", "sink", h.name, "err", err)
		}
		cancel()
	}
}
