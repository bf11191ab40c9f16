package commands

import (
	"github.com/spf13/cobra"

	"github.com/glacieros/glacierd/pkg/engine"
	"github.com/glacieros/glacierd/pkg/protocol"
	"github.com/glacieros/glacierd/pkg/server"
	"github.com/glacieros/glacierd/pkg/sysinfo"
)

func newInstallDaemonCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "install-daemon",
		Short: "Run the first-boot installer daemon",
		Long: `Run the install protocol engine and serve the wire protocol.

The daemon starts Idle. Connected observers drive it through the system
check, configuration editing, disk selection, and confirmation phases,
then start the privileged install build and watch its progress as typed
events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, cleanup, err := setupDaemon(ctx, version)
			if err != nil {
				return err
			}
			defer cleanup()

			eng := engine.NewInstallEngine(d.bus, d.supervisor, sysinfo.NewCollector(),
				d.project, d.metrics, d.tracer, d.logger, d.cfg.InstallCommand)

			snapshot := func() protocol.StateChangedData {
				state := eng.State()
				return protocol.StateChangedData{Install: &state}
			}

			srv := server.New(d.cfg.ListenAddress, eng, snapshot, d.bus, d.metrics, d.logger)
			d.logger.Info().Str("addr", d.cfg.ListenAddress).Msg("install daemon starting")
			return srv.Serve(ctx)
		},
	}
}
