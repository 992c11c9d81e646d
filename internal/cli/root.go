package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

const envPrefix = "PACKLINK"

type RootConfig struct {
	ConfigFile       string
	LogLevel         string
	DataDir          string
	InstancesDir     string
	Catalog          string
	CatalogURL       string
	HTTPTimeoutSec   int
	HTTPRetries      int
	HTTPRetryDelayMs int
	SnapshotKeepLast int
	PeerEndpoint     string
}

// Execute runs the root command until it returns or the process receives
// SIGINT/SIGTERM.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := newRootCommand()
	err := root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	cfg := RootConfig{}
	cmd := &cobra.Command{
		Use:           "packlink",
		Short:         "Layered modpack resolver with friend-link sync",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			setupLogging(viper.GetString("log_level"))
			cmd.SetContext(log.Logger.WithContext(cmd.Context()))
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.ConfigFile, "config", "", "Config file path")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	flags.StringVar(&cfg.DataDir, "data-dir", ".packlink", "Directory for specs, state and debug bundles")
	flags.StringVar(&cfg.InstancesDir, "instances-dir", "", "Instances root (defaults to <data-dir>/instances)")
	flags.StringVar(&cfg.Catalog, "catalog", "", "YAML provider catalog (defaults to <data-dir>/catalog.yaml)")
	flags.StringVar(&cfg.CatalogURL, "catalog-url", "", "HTTP provider catalog base URL")
	flags.IntVar(&cfg.HTTPTimeoutSec, "http-timeout", 60, "HTTP timeout in seconds (0 = default)")
	flags.IntVar(&cfg.HTTPRetries, "http-retries", 3, "HTTP retries (0 = default)")
	flags.IntVar(&cfg.HTTPRetryDelayMs, "http-retry-delay-ms", 200, "HTTP retry base delay in ms (0 = default)")
	flags.IntVar(&cfg.SnapshotKeepLast, "snapshot-keep-last", 10, "Snapshots kept per instance after apply")
	flags.StringVar(&cfg.PeerEndpoint, "peer-endpoint", "", "Endpoint advertised to friend-link peers")

	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = viper.BindPFlag("instances_dir", flags.Lookup("instances-dir"))
	_ = viper.BindPFlag("catalog", flags.Lookup("catalog"))
	_ = viper.BindPFlag("catalog_url", flags.Lookup("catalog-url"))
	_ = viper.BindPFlag("http_timeout_sec", flags.Lookup("http-timeout"))
	_ = viper.BindPFlag("http_retries", flags.Lookup("http-retries"))
	_ = viper.BindPFlag("http_retry_delay_ms", flags.Lookup("http-retry-delay-ms"))
	_ = viper.BindPFlag("snapshot_keep_last", flags.Lookup("snapshot-keep-last"))
	_ = viper.BindPFlag("peer_endpoint", flags.Lookup("peer-endpoint"))

	cmd.AddCommand(newSpecCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newResolveCommand())
	cmd.AddCommand(newInspectCommand())
	cmd.AddCommand(newApplyCommand())
	cmd.AddCommand(newRollbackCommand())
	cmd.AddCommand(newSnapshotsCommand())
	cmd.AddCommand(newLockCommand())
	cmd.AddCommand(newUnlinkCommand())
	cmd.AddCommand(newDriftCommand())
	cmd.AddCommand(newRealignCommand())
	cmd.AddCommand(newPruneCommand())
	cmd.AddCommand(newFriendCommand())
	cmd.AddCommand(newWatchCommand())
	cmd.AddCommand(newServeCommand())
	return cmd
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file").
				WithCause(err)
		}
		return nil
	}

	viper.SetConfigName("packlink")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/packlink")
	if err := viper.ReadInConfig(); err != nil {
		return nil
	}
	return nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func exitCodeForError(err error) int {
	code := errbuilder.CodeOf(err)
	message := errorMessage(err)
	switch code {
	case errbuilder.CodeInvalidArgument, errbuilder.CodeAlreadyExists:
		if strings.HasPrefix(message, "instance busy") {
			return 4
		}
		return 2
	case errbuilder.CodePermissionDenied:
		return 3
	case errbuilder.CodeFailedPrecondition:
		return 4
	case errbuilder.CodeNotFound, errbuilder.CodeInternal:
		return 5
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
