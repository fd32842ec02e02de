package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/tesla-exporter/internal/auth"
	"github.com/benmeehan/tesla-exporter/internal/fleet"
	"github.com/benmeehan/tesla-exporter/internal/models"
	"github.com/benmeehan/tesla-exporter/internal/scheduler"
	"github.com/rs/zerolog"
)

// FleetAPI is the subset of the fleet client the poller drives.
type FleetAPI interface {
	ListVehicles(ctx context.Context) []models.Vehicle
	GetVehicleData(ctx context.Context, vehicleID int64) (*models.VehicleData, error)
	WakeVehicle(ctx context.Context, vehicleID int64) error
}

// MetricsSink receives poll outcomes for the scrape handler to serve.
type MetricsSink interface {
	Update(data *models.VehicleData, state models.VehicleState, name string)
	RecordError(kind string)
	MarkAPIUnreachable()
}

// TelemetryPublisher forwards successful telemetry payloads to an external
// transport.
type TelemetryPublisher interface {
	PublishTelemetry(vehicleName string, data *models.VehicleData) error
}

// PollerService runs the polling loop: list vehicles, feed the observed state
// to the sleep tracker, fetch telemetry when the tracker says so, publish the
// outcome, then sleep for the tracker's next interval. All per-cycle errors
// are absorbed here into error-kind counters; the loop itself never crashes.
type PollerService struct {
	fleetClient  FleetAPI
	tracker      *scheduler.SleepTracker
	sink         MetricsSink
	publisher    TelemetryPublisher
	vehicleIndex int
	wakeOnPoll   bool
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPollerService initializes a new PollerService. publisher may be nil.
func NewPollerService(
	fleetClient FleetAPI,
	tracker *scheduler.SleepTracker,
	sink MetricsSink,
	publisher TelemetryPublisher,
	vehicleIndex int,
	wakeOnPoll bool,
	logger zerolog.Logger,
) *PollerService {
	return &PollerService{
		fleetClient:  fleetClient,
		tracker:      tracker,
		sink:         sink,
		publisher:    publisher,
		vehicleIndex: vehicleIndex,
		wakeOnPoll:   wakeOnPoll,
		logger:       logger,
	}
}

// Start launches the poll loop in a separate goroutine.
func (p *PollerService) Start() error {
	if p.ctx != nil {
		p.logger.Warn().Msg("PollerService is already running")
		return errors.New("poller service is already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runPollLoop()
	}()

	p.logger.Info().Msg("PollerService started successfully")
	return nil
}

// Stop gracefully stops the poller service.
func (p *PollerService) Stop() error {
	if p.ctx == nil {
		p.logger.Warn().Msg("PollerService is not running")
		return errors.New("poller service is not running")
	}

	p.cancel()
	p.wg.Wait()

	p.ctx = nil
	p.cancel = nil

	p.logger.Info().Msg("PollerService stopped successfully")
	return nil
}

// runPollLoop runs poll cycles until shutdown. The inter-poll sleep selects
// on the service context so shutdown is timely rather than waiting out a
// full interval.
func (p *PollerService) runPollLoop() {
	for {
		select {
		case <-p.ctx.Done():
			p.logger.Info().Msg("PollerService stopping gracefully")
			return
		default:
		}

		p.pollOnce(p.ctx)

		interval := p.tracker.PollInterval()
		p.logger.Debug().Dur("interval", interval).Msg("Next poll scheduled")

		select {
		case <-time.After(interval):
		case <-p.ctx.Done():
			p.logger.Info().Msg("PollerService stopping gracefully")
			return
		}
	}
}

// pollOnce executes a single poll cycle.
func (p *PollerService) pollOnce(ctx context.Context) {
	vehicles := p.fleetClient.ListVehicles(ctx)
	if len(vehicles) == 0 {
		p.logger.Warn().Msg("No vehicles returned from API")
		p.sink.MarkAPIUnreachable()
		p.sink.RecordError("no_vehicles")
		p.tracker.RecordError()
		return
	}

	idx := p.vehicleIndex
	if idx >= len(vehicles) {
		idx = len(vehicles) - 1
	}
	if idx < 0 {
		idx = 0
	}
	vehicle := vehicles[idx]

	name := vehicle.DisplayName
	if name == "" {
		name = "Tesla"
	}

	state := vehicle.ReportedState()
	p.tracker.UpdateState(state)

	if !p.tracker.ShouldFetch(state) {
		// Not fetching data, but the state observation is still published.
		p.sink.Update(nil, state, name)
		return
	}

	if state == models.VehicleStateAsleep && p.wakeOnPoll {
		if err := p.fleetClient.WakeVehicle(ctx, vehicle.ID); err != nil {
			p.sink.Update(nil, state, name)
			p.sink.RecordError("wake_timeout")
			p.tracker.RecordError()
			return
		}
	}

	data, err := p.fleetClient.GetVehicleData(ctx, vehicle.ID)
	if err != nil {
		p.sink.Update(nil, state, name)
		p.sink.RecordError(errorKind(err))
		p.tracker.RecordError()
		p.logFetchError(err)
		return
	}

	p.sink.Update(data, state, name)
	p.tracker.RecordSuccessfulFetch()
	p.logger.Info().Str("vehicle_name", name).Str("state", string(state)).Msg("Fetched vehicle data")

	if p.publisher != nil {
		if err := p.publisher.PublishTelemetry(name, data); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to publish telemetry")
		}
	}
}

// logFetchError logs a fetch failure. Refresh exhaustion and persistence
// failures require operator action and log at the highest severity; the rest
// of the taxonomy is expected operational noise.
func (p *PollerService) logFetchError(err error) {
	if errors.Is(err, auth.ErrRefreshExhausted) || errors.Is(err, auth.ErrPersistence) {
		p.logger.Error().Err(err).Msg("Credential subsystem failed; re-authorization required")
		return
	}
	p.logger.Warn().Err(err).Msg("Failed to fetch vehicle data")
}

// errorKind maps a fetch error onto its counter label.
func errorKind(err error) string {
	var apiErr *fleet.APIError
	switch {
	case errors.Is(err, fleet.ErrAuthUnavailable):
		return "auth_unavailable"
	case errors.Is(err, fleet.ErrVehicleUnreachable):
		return "vehicle_unreachable"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "vehicle_data_failed"
	}
}
