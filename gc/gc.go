// Package gc sweeps auth requests and device authorizations that were
// never completed before their TTL ran out, generalizing
// storage/sql/gc.go's ticker-driven row deletion into an event emitter:
// in an event-sourced aggregate, "deletion" of a stalled flow is itself
// an event (auth_request.expired, device_auth.expired), not a row
// delete, so the sweeper calls the same command dispatcher every other
// write goes through rather than touching a read table directly.
package gc

import (
	"context"
	"log/slog"
	"time"

	"github.com/authapp/iamcore/command"
	"github.com/authapp/iamcore/domain"
	"github.com/authapp/iamcore/projection"
	"github.com/authapp/iamcore/query"
)

// Sweeper periodically expires pending auth requests and device
// authorizations whose TTL has elapsed.
type Sweeper struct {
	dispatcher *command.Dispatcher
	queries    *query.Queries
	instances  projection.InstanceLister
	logger     *slog.Logger
	interval   time.Duration
}

// New constructs a Sweeper. interval defaults to 30 seconds if zero.
func New(dispatcher *command.Dispatcher, queries *query.Queries, instances projection.InstanceLister, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{dispatcher: dispatcher, queries: queries, instances: instances, logger: logger, interval: interval}
}

// Run sweeps every interval until ctx is cancelled, logging but not
// aborting on a single instance's or aggregate's failure so one bad
// sweep does not stop the rest.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "gc sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) error {
	instanceIDs, err := s.instances.InstanceIDs(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, instanceID := range instanceIDs {
		s.sweepAuthRequests(ctx, instanceID, now)
		s.sweepDeviceAuths(ctx, instanceID, now)
	}
	return nil
}

func (s *Sweeper) sweepAuthRequests(ctx context.Context, instanceID string, now time.Time) {
	cc := domain.Context{InstanceID: instanceID}
	for _, row := range s.queries.ListPendingAuthRequests(ctx, instanceID) {
		if row.ExpiresAt.IsZero() || now.Before(row.ExpiresAt) {
			continue
		}
		if _, err := s.dispatcher.ExpireAuthRequest(ctx, cc, row.AuthRequestID, now); err != nil {
			s.logger.ErrorContext(ctx, "expire auth request failed",
				"instance_id", instanceID, "auth_request_id", row.AuthRequestID, "error", err)
		}
	}
}

func (s *Sweeper) sweepDeviceAuths(ctx context.Context, instanceID string, now time.Time) {
	cc := domain.Context{InstanceID: instanceID}
	for _, row := range s.queries.ListPendingDeviceAuths(ctx, instanceID) {
		if row.ExpiresAt.IsZero() || now.Before(row.ExpiresAt) {
			continue
		}
		if _, err := s.dispatcher.ExpireDeviceAuth(ctx, cc, row.DeviceAuthID, now); err != nil {
			s.logger.ErrorContext(ctx, "expire device auth failed",
				"instance_id", instanceID, "device_auth_id", row.DeviceAuthID, "error", err)
		}
	}
}
