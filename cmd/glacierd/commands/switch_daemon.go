package commands

import (
	"github.com/spf13/cobra"

	"github.com/glacieros/glacierd/pkg/engine"
	"github.com/glacieros/glacierd/pkg/protocol"
	"github.com/glacieros/glacierd/pkg/server"
)

func newSwitchDaemonCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "switch-daemon",
		Short: "Run the update daemon on an installed appliance",
		Long: `Run the update protocol engine and serve the wire protocol.

Observers send SwitchConfig to build and activate a new configuration,
watch the build log stream, and may reboot the appliance afterwards. A
failed switch is left visible as a distinct failure state until the next
retry or reset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, cleanup, err := setupDaemon(ctx, version)
			if err != nil {
				return err
			}
			defer cleanup()

			eng := engine.NewSwitchEngine(d.bus, d.supervisor, d.project,
				d.metrics, d.tracer, d.logger, d.cfg.SwitchCommand, d.cfg.RebootCommand)

			if d.cfg.ConfigPath != "" {
				go func() {
					err := d.project.WatchConfig(ctx, func(path string) {
						ev, err := protocol.NewEvent(protocol.EventUpdateLog, protocol.LogLineData{
							Line: "configuration changed on disk: " + path,
						})
						if err != nil {
							return
						}
						d.bus.Publish(ev)
					})
					if err != nil {
						d.logger.Warn().Err(err).Msg("config watcher stopped")
					}
				}()
			}

			snapshot := func() protocol.StateChangedData {
				state := eng.State()
				return protocol.StateChangedData{System: &state}
			}

			srv := server.New(d.cfg.ListenAddress, eng, snapshot, d.bus, d.metrics, d.logger)
			d.logger.Info().Str("addr", d.cfg.ListenAddress).Msg("switch daemon starting")
			return srv.Serve(ctx)
		},
	}
}
