package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"

	"packlink/internal/app"
	"packlink/internal/types"
)

func newFriendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friend",
		Short: "Keep an instance in sync with a small group of friends",
	}
	cmd.AddCommand(newFriendCreateCommand())
	cmd.AddCommand(newFriendJoinCommand())
	cmd.AddCommand(newFriendLeaveCommand())
	cmd.AddCommand(newFriendStatusCommand())
	cmd.AddCommand(newFriendAllowlistCommand())
	cmd.AddCommand(newFriendTrustCommand())
	cmd.AddCommand(newFriendPolicyCommand())
	cmd.AddCommand(newFriendReconcileCommand())
	cmd.AddCommand(newFriendResolveCommand())
	cmd.AddCommand(newFriendPreviewCommand())
	cmd.AddCommand(newFriendDebugCommand())
	return cmd
}

func newFriendCreateCommand() *cobra.Command {
	var req app.CreateSessionRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a friend-link group and print an invite code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag(req.InstanceID, "instance"); err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				invite, err := service.CreateSession(cmd.Context(), req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "group: %s\n", invite.GroupID)
				fmt.Fprintf(out, "expires: %s\n", invite.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
				fmt.Fprintln(out, invite.InviteCode)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.InstanceID, "instance", "", "Instance id")
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "Display name shown to peers")
	return cmd
}

func newFriendJoinCommand() *cobra.Command {
	var req app.JoinSessionRequest
	cmd := &cobra.Command{
		Use:   "join <invite-code>",
		Short: "Join a friend-link group from an invite code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(req.InstanceID, "instance"); err != nil {
				return err
			}
			req.InviteCode = args[0]
			return withService(func(service app.Service) error {
				status, err := service.JoinSession(cmd.Context(), req)
				if err != nil {
					return err
				}
				printFriendStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.InstanceID, "instance", "", "Instance id")
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "Display name shown to peers")
	return cmd
}

func newFriendLeaveCommand() *cobra.Command {
	return instanceCommand("leave", "Leave the friend-link group", func(cmd *cobra.Command, service app.Service, instanceID string) error {
		status, err := service.LeaveSession(cmd.Context(), instanceID)
		if err != nil {
			return err
		}
		printFriendStatus(cmd.OutOrStdout(), status)
		return nil
	})
}

func newFriendStatusCommand() *cobra.Command {
	var asJSON bool
	cmd := instanceCommand("status", "Show the friend-link session of an instance", func(cmd *cobra.Command, service app.Service, instanceID string) error {
		status, err := service.FriendStatus(cmd.Context(), instanceID)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), status)
		}
		printFriendStatus(cmd.OutOrStdout(), status)
		return nil
	})
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func newFriendAllowlistCommand() *cobra.Command {
	cmd := instanceCommand("allowlist [pattern...]", "Replace the config files shared with the group", func(cmd *cobra.Command, service app.Service, instanceID string) error {
		status, err := service.SetAllowlist(cmd.Context(), instanceID, cmd.Flags().Args())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "allowlist: %s\n", strings.Join(status.Allowlist, ", "))
		return nil
	})
	cmd.Args = cobra.ArbitraryArgs
	return cmd
}

func newFriendTrustCommand() *cobra.Command {
	cmd := instanceCommand("trust [peer-id...]", "Replace the set of peers whose changes are applied", func(cmd *cobra.Command, service app.Service, instanceID string) error {
		status, err := service.SetTrustedPeers(cmd.Context(), instanceID, cmd.Flags().Args())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "trusted: %s\n", strings.Join(status.TrustedPeerIDs, ", "))
		return nil
	})
	cmd.Args = cobra.ArbitraryArgs
	return cmd
}

type policyOptions struct {
	MaxAutoChanges int
	Mods           bool
	ResourcePacks  bool
	ShaderPacks    bool
	DataPacks      bool
}

func newFriendPolicyCommand() *cobra.Command {
	opts := policyOptions{}
	cmd := instanceCommand("policy", "Change the guardrail and synced content types", func(cmd *cobra.Command, service app.Service, instanceID string) error {
		req := app.SyncPolicyRequest{InstanceID: instanceID}
		if flagChanged(cmd, "max-auto-changes") {
			req.MaxAutoChanges = &opts.MaxAutoChanges
		}
		toggled := flagChanged(cmd, "sync-mods") || flagChanged(cmd, "sync-resourcepacks") ||
			flagChanged(cmd, "sync-shaderpacks") || flagChanged(cmd, "sync-datapacks")
		if toggled {
			current, err := service.FriendStatus(cmd.Context(), instanceID)
			if err != nil {
				return err
			}
			sync := current.Sync
			if flagChanged(cmd, "sync-mods") {
				sync.Mods = opts.Mods
			}
			if flagChanged(cmd, "sync-resourcepacks") {
				sync.ResourcePacks = opts.ResourcePacks
			}
			if flagChanged(cmd, "sync-shaderpacks") {
				sync.ShaderPacks = opts.ShaderPacks
			}
			if flagChanged(cmd, "sync-datapacks") {
				sync.DataPacks = opts.DataPacks
			}
			req.Sync = &sync
		}
		status, err := service.SetSyncPolicy(cmd.Context(), req)
		if err != nil {
			return err
		}
		printFriendStatus(cmd.OutOrStdout(), status)
		return nil
	})
	cmd.Flags().IntVar(&opts.MaxAutoChanges, "max-auto-changes", types.DefaultMaxAutoChanges, "Pause reconcile above this many changes")
	cmd.Flags().BoolVar(&opts.Mods, "sync-mods", true, "Sync mods")
	cmd.Flags().BoolVar(&opts.ResourcePacks, "sync-resourcepacks", true, "Sync resource packs")
	cmd.Flags().BoolVar(&opts.ShaderPacks, "sync-shaderpacks", true, "Sync shader packs")
	cmd.Flags().BoolVar(&opts.DataPacks, "sync-datapacks", true, "Sync world datapacks")
	return cmd
}

func newFriendReconcileCommand() *cobra.Command {
	var prelaunch bool
	var selected []string
	var asJSON bool
	cmd := instanceCommand("reconcile", "Pull trusted changes from the group", func(cmd *cobra.Command, service app.Service, instanceID string) error {
		mode := types.ReconcileManual
		if prelaunch {
			mode = types.ReconcilePrelaunch
		}
		result, err := service.Reconcile(cmd.Context(), app.ReconcileRequest{
			InstanceID:   instanceID,
			Mode:         mode,
			SelectedKeys: selected,
		})
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		printReconcileResult(cmd.OutOrStdout(), result)
		return nil
	})
	cmd.Flags().BoolVar(&prelaunch, "prelaunch", false, "Run as the pre-launch check")
	cmd.Flags().StringSliceVar(&selected, "select", nil, "Apply only these keys (bypasses the guardrail)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

type friendResolveOptions struct {
	KeepAllMine   bool
	TakeAllTheirs bool
	Items         []string
}

func newFriendResolveCommand() *cobra.Command {
	opts := friendResolveOptions{}
	cmd := instanceCommand("resolve", "Settle pending friend-link conflicts", func(cmd *cobra.Command, service app.Service, instanceID string) error {
		resolution, err := parseConflictResolution(opts)
		if err != nil {
			return err
		}
		result, err := service.ResolveConflicts(cmd.Context(), app.ResolveConflictsRequest{
			InstanceID: instanceID,
			Resolution: resolution,
		})
		if err != nil {
			return err
		}
		printReconcileResult(cmd.OutOrStdout(), result)
		return nil
	})
	cmd.Flags().BoolVar(&opts.KeepAllMine, "keep-all-mine", false, "Keep the local side of every conflict")
	cmd.Flags().BoolVar(&opts.TakeAllTheirs, "take-all-theirs", false, "Take the peer side of every conflict")
	cmd.Flags().StringSliceVar(&opts.Items, "item", nil, "Per-conflict choice as <conflict-id>=keep_mine|take_theirs|skip_for_now")
	return cmd
}

func parseConflictResolution(opts friendResolveOptions) (types.ConflictResolution, error) {
	resolution := types.ConflictResolution{
		KeepAllMine:   opts.KeepAllMine,
		TakeAllTheirs: opts.TakeAllTheirs,
	}
	if opts.KeepAllMine && opts.TakeAllTheirs {
		return resolution, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("--keep-all-mine and --take-all-theirs are exclusive")
	}
	for _, raw := range opts.Items {
		id, choice, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return resolution, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid --item %q", raw))
		}
		parsed := types.ConflictResolutionChoice(strings.TrimSpace(choice))
		switch parsed {
		case types.ResolutionKeepMine, types.ResolutionTakeTheirs, types.ResolutionSkip:
		default:
			return resolution, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("unknown resolution %q", choice))
		}
		resolution.Items = append(resolution.Items, types.ConflictResolutionItem{
			ConflictID: strings.TrimSpace(id),
			Resolution: parsed,
		})
	}
	if !resolution.KeepAllMine && !resolution.TakeAllTheirs && len(resolution.Items) == 0 {
		return resolution, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("choose --keep-all-mine, --take-all-theirs or at least one --item")
	}
	return resolution, nil
}

func newFriendPreviewCommand() *cobra.Command {
	return instanceCommand("preview", "List what a reconcile would change", func(cmd *cobra.Command, service app.Service, instanceID string) error {
		preview, err := service.DriftPreview(cmd.Context(), instanceID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d changes (%d added, %d removed, %d changed), %d peers offline\n",
			preview.TotalChanges, preview.Added, preview.Removed, preview.Changed, preview.OfflinePeers)
		for _, item := range preview.Items {
			flags := ""
			if !item.Trusted {
				flags += " [untrusted]"
			}
			if item.Conflict {
				flags += " [conflict]"
			}
			fmt.Fprintf(out, "%s %s %s from %s%s\n", item.Change, item.Kind, item.Key, item.PeerID, flags)
		}
		return nil
	})
}

func newFriendDebugCommand() *cobra.Command {
	return instanceCommand("debug", "Write a redacted debug bundle", func(cmd *cobra.Command, service app.Service, instanceID string) error {
		path, err := service.ExportDebugBundle(cmd.Context(), instanceID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "debug bundle: %s\n", path)
		return nil
	})
}

// instanceCommand builds a subcommand whose only required flag is
// --instance.
func instanceCommand(use string, short string, run func(*cobra.Command, app.Service, string) error) *cobra.Command {
	var instanceID string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag(instanceID, "instance"); err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				return run(cmd, service, instanceID)
			})
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "Instance id")
	return cmd
}

func printFriendStatus(out io.Writer, status types.FriendLinkStatus) {
	if !status.Linked {
		fmt.Fprintf(out, "%s: not linked\n", status.InstanceID)
		return
	}
	fmt.Fprintf(out, "%s: %s in group %s as %s (%s)\n",
		status.InstanceID, status.Status, status.GroupID, status.DisplayName, status.LocalPeerID)
	fmt.Fprintf(out, "max auto changes: %d, pending conflicts: %d\n", status.MaxAutoChanges, status.PendingConflictsCount)
	for _, peer := range status.Peers {
		state := "offline"
		if peer.Online {
			state = "online"
		}
		trust := ""
		if peer.Trusted {
			trust = ", trusted"
		}
		fmt.Fprintf(out, "- %s %s (%s%s) %s\n", peer.PeerID, peer.DisplayName, state, trust, peer.Endpoint)
	}
}

func printReconcileResult(out io.Writer, result types.FriendLinkReconcileResult) {
	fmt.Fprintf(out, "%s: %s (applied=%d pending=%d offline peers=%d)\n",
		result.InstanceID, result.Status, result.ActionsApplied, result.ActionsPending, result.OfflinePeers)
	if result.BlockedReason != "" {
		fmt.Fprintf(out, "blocked: %s\n", result.BlockedReason)
	}
	for _, action := range result.Actions {
		marker := " "
		if action.Applied {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s %s %s from %s\n", marker, action.Change, action.Kind, action.Key, action.PeerID)
	}
	for _, conflict := range result.Conflicts {
		fmt.Fprintf(out, "conflict %s: %s\n", conflict.ID, conflict.Key)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
}
