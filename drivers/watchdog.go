package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pipetapasco/microservices-delivery-hub/common/metrics"
)

const watchdogInterval = time.Minute

// maxTripDuration bounds how long a confirmation exempts a driver. A driver
// who confirmed and then vanished without a terminal trip status would
// otherwise hold the exemption forever.
const maxTripDuration = 4 * time.Hour

// watchdog reverts drivers stuck en_servicio. A driver goes en_servicio the
// moment they accept; if the accept event never turns into a confirmed
// assignment (orders service down, message dead-lettered, lost race that
// slipped past compensation) the driver would otherwise stay unbookable
// forever. Confirmed assignments are exempt for the whole trip.
type watchdog struct {
	store   DriversStore
	grace   time.Duration
	metrics *metrics.DispatchMetrics
	logger  *slog.Logger

	mu        sync.Mutex
	confirmed map[string]time.Time
}

func NewWatchdog(store DriversStore, grace time.Duration, m *metrics.DispatchMetrics, logger *slog.Logger) *watchdog {
	return &watchdog{
		store:     store,
		grace:     grace,
		metrics:   m,
		logger:    logger,
		confirmed: map[string]time.Time{},
	}
}

// Confirm marks driverID's current service as a real assignment.
func (w *watchdog) Confirm(driverID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.confirmed[driverID] = time.Now()
}

// Forget clears the confirmation when the driver leaves en_servicio.
func (w *watchdog) Forget(driverID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.confirmed, driverID)
}

func (w *watchdog) isConfirmed(driverID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.confirmed[driverID]
	return ok
}

// Run sweeps every minute until ctx is cancelled.
func (w *watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// pruneConfirmations drops confirmations older than any plausible trip;
// the next sweep then treats the driver like any other stuck one.
func (w *watchdog) pruneConfirmations(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ts := range w.confirmed {
		if now.Sub(ts) > maxTripDuration {
			delete(w.confirmed, id)
		}
	}
}

func (w *watchdog) sweep(ctx context.Context) {
	w.pruneConfirmations(time.Now())
	cutoff := time.Now().UTC().Add(-w.grace)

	stuck, err := w.store.ListStuckInService(ctx, cutoff)
	if err != nil {
		w.logger.Error("watchdog sweep failed", slog.Any("error", err))
		return
	}

	for _, driver := range stuck {
		if w.isConfirmed(driver.ID) {
			continue
		}

		if err := w.store.MarkAvailable(ctx, driver.ID); err != nil {
			// ErrDriverNotEligible means the driver moved on their own
			// between the listing and the CAS; nothing to do.
			if err != ErrDriverNotEligible {
				w.logger.Error("watchdog failed to revert driver",
					slog.String("id_conductor", driver.ID),
					slog.Any("error", err))
			}
			continue
		}

		w.metrics.WatchdogReverts.Inc()
		w.logger.Warn("reverted stuck driver to available",
			slog.String("id_conductor", driver.ID),
			slog.Time("en_servicio_desde", driver.FechaCambioDisponibilidad))
	}
}
