package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packlink/internal/adapters"
	"packlink/internal/app"
	"packlink/internal/types"
)

// newAppService builds the service from the resolved config. Callers must
// run the returned close function.
func newAppService() (app.Service, func() error, error) {
	return app.NewService(serviceConfig())
}

func serviceConfig() app.Config {
	return app.Config{
		DataDir:      viper.GetString("data_dir"),
		InstancesDir: viper.GetString("instances_dir"),
		CatalogPath:  viper.GetString("catalog"),
		CatalogURL:   viper.GetString("catalog_url"),
		HTTP: adapters.NewHTTPOptions(
			viper.GetInt("http_timeout_sec"),
			viper.GetInt("http_retries"),
			viper.GetInt("http_retry_delay_ms"),
		),
		SnapshotKeepLast: viper.GetInt("snapshot_keep_last"),
		WatchDebounce:    500 * time.Millisecond,
		PeerEndpoint:     viper.GetString("peer_endpoint"),
	}
}

// withService opens the service for one command run.
func withService(run func(app.Service) error) error {
	service, closeFn, err := newAppService()
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()
	return run(service)
}

type targetOptions struct {
	InstanceID       string
	MinecraftVersion string
	Loader           string
	LoaderVersion    string
}

func addTargetFlags(cmd *cobra.Command, opts *targetOptions) {
	cmd.Flags().StringVar(&opts.InstanceID, "instance", "", "Instance id")
	cmd.Flags().StringVar(&opts.MinecraftVersion, "mc-version", "", "Target Minecraft version")
	cmd.Flags().StringVar(&opts.Loader, "loader", "", "Target loader (fabric, forge, neoforge, quilt)")
	cmd.Flags().StringVar(&opts.LoaderVersion, "loader-version", "", "Target loader version")
}

func (o targetOptions) target() types.InstanceTarget {
	return types.InstanceTarget{
		InstanceID:       o.InstanceID,
		MinecraftVersion: o.MinecraftVersion,
		Loader:           o.Loader,
		LoaderVersion:    o.LoaderVersion,
	}
}

func requireFlag(value string, name string) error {
	if value == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("--%s is required", name))
	}
	return nil
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode output").
			WithCause(err)
	}
	return nil
}
