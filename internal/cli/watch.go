package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packlink/internal/adapters"
	"packlink/internal/app"
	"packlink/internal/types"
)

type watchOptions struct {
	Instances    []string
	IntervalSec  int
	FriendSync   bool
	NoFSWatch    bool
	Listen       string
	ServePeers   bool
	PrintReports bool
}

func newWatchCommand() *cobra.Command {
	opts := watchOptions{PrintReports: true}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch instances for drift and optionally reconcile with friends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), cmd, opts)
		},
	}
	addWatchFlags(cmd, &opts)
	return cmd
}

func newServeCommand() *cobra.Command {
	opts := watchOptions{ServePeers: true}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the friend-link peer protocol and watch the given instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), cmd, opts)
		},
	}
	addWatchFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.Listen, "listen", ":7070", "Peer listener address")
	_ = viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func addWatchFlags(cmd *cobra.Command, opts *watchOptions) {
	cmd.Flags().StringSliceVar(&opts.Instances, "instance", nil, "Instance ids to watch")
	cmd.Flags().IntVar(&opts.IntervalSec, "interval", 30, "Seconds between drift checks")
	cmd.Flags().BoolVar(&opts.FriendSync, "friend-sync", false, "Reconcile with the friend-link group after each check")
	cmd.Flags().BoolVar(&opts.NoFSWatch, "no-fs-watch", false, "Poll only; do not watch content folders")
}

func runWatch(ctx context.Context, cmd *cobra.Command, opts watchOptions) error {
	return withService(func(service app.Service) error {
		if opts.ServePeers {
			listener := adapters.NewPeerListener(service.PeerHandler(), service.Clock)
			endpoint, err := listener.Start(ctx, resolveString(cmd, opts.Listen, "listen", "listen"))
			if err != nil {
				return err
			}
			if service.PeerEndpoint == "" {
				service.PeerEndpoint = endpoint
			}
			log.Ctx(ctx).Debug().Str("advertised", service.PeerEndpoint).Msg("friend-link endpoint")
		}
		if len(opts.Instances) == 0 {
			if !opts.ServePeers {
				return requireFlag("", "instance")
			}
			<-ctx.Done()
			return nil
		}
		out := &syncWriter{w: cmd.OutOrStdout()}
		req := app.WatchRequest{
			InstanceIDs:    opts.Instances,
			Interval:       time.Duration(opts.IntervalSec) * time.Second,
			FriendSync:     opts.FriendSync,
			DisableWatcher: opts.NoFSWatch,
			OnError: func(instanceID string, err error) {
				fmt.Fprintf(out, "%s: %s\n", instanceID, errorMessage(err))
			},
		}
		if opts.PrintReports {
			req.OnDrift = func(report types.DriftReport) {
				if report.Status == types.DriftDrifted {
					printDriftReport(out, report)
				}
			}
			req.OnReconcile = func(result types.FriendLinkReconcileResult) {
				if result.Status != types.ReconcileInSync {
					printReconcileResult(out, result)
				}
			}
		}
		return service.Watch(ctx, req)
	})
}

// syncWriter serializes output from the per-instance watch goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
