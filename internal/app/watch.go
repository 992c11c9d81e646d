package app

import (
	"context"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"packlink/internal/ports"
	"packlink/internal/types"
)

const defaultWatchInterval = 30 * time.Second

// Watch checks drift for each instance on a ticker and whenever its content
// folders change, optionally followed by a friend-link reconcile. It blocks
// until ctx is cancelled. Watch itself only reads; writes go through
// Reconcile and its guard.
func (s Service) Watch(ctx context.Context, req WatchRequest) error {
	if len(req.InstanceIDs) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("at least one instance id is required")
	}
	interval := req.Interval
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	ids := make([]string, 0, len(req.InstanceIDs))
	for _, raw := range req.InstanceIDs {
		id, err := validInstanceID(raw)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			s.watchInstance(gctx, id, interval, req)
			return nil
		})
	}
	return g.Wait()
}

func (s Service) watchInstance(ctx context.Context, instanceID string, interval time.Duration, req WatchRequest) {
	logger := log.Ctx(ctx).With().Str("instance_id", instanceID).Logger()
	ctx = logger.WithContext(ctx)

	var events <-chan ports.WatchEvent
	if s.Watcher != nil && !req.DisableWatcher {
		ch, err := s.Watcher.Watch(ctx, instanceID)
		if err != nil {
			logger.Warn().Err(err).Msg("content watcher unavailable; polling only")
		} else {
			events = ch
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.watchCheck(ctx, instanceID, req)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.watchCheck(ctx, instanceID, req)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			logger.Debug().Str("path", event.Path).Msg("content changed")
			s.watchCheck(ctx, instanceID, req)
		}
	}
}

func (s Service) watchCheck(ctx context.Context, instanceID string, req WatchRequest) {
	report, err := s.DetectDrift(ctx, instanceID)
	if err != nil {
		s.watchError(ctx, instanceID, req, err)
	} else {
		if report.Status == types.DriftDrifted {
			log.Ctx(ctx).Info().
				Int("added", len(report.Added)).
				Int("removed", len(report.Removed)).
				Int("changed", len(report.VersionChanged)).
				Msg("instance drifted from its modpack")
		}
		if req.OnDrift != nil {
			req.OnDrift(report)
		}
	}
	if !req.FriendSync {
		return
	}
	result, err := s.Reconcile(ctx, ReconcileRequest{InstanceID: instanceID, Mode: types.ReconcileManual})
	if err != nil {
		s.watchError(ctx, instanceID, req, err)
		return
	}
	if result.Status == types.ReconcileUnlinked {
		return
	}
	if req.OnReconcile != nil {
		req.OnReconcile(result)
	}
}

func (s Service) watchError(ctx context.Context, instanceID string, req WatchRequest, err error) {
	if ctx.Err() != nil {
		return
	}
	if errbuilder.CodeOf(err) == errbuilder.CodeAlreadyExists {
		log.Ctx(ctx).Debug().Err(err).Msg("instance busy; skipping this round")
		return
	}
	log.Ctx(ctx).Warn().Err(err).Msg("watch check failed")
	if req.OnError != nil {
		req.OnError(strings.TrimSpace(instanceID), err)
	}
}
