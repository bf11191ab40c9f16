package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/spf13/cobra"

	"github.com/glacieros/glacierd/pkg/protocol"
)

func newWatchCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to a running daemon and print every event",
		Long: `Connect to a running glacierd daemon as an observer.

The first line printed is always the daemon's current state; every event
after that is printed as it arrives. Useful for debugging a stuck install
or tailing a switch from another machine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var dialer net.Dialer
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", addr, err)
			}
			defer conn.Close()

			stop := context.AfterFunc(ctx, func() {
				conn.Close()
			})
			defer stop()

			dec := protocol.NewDecoder(conn)
			for {
				ev, err := dec.DecodeEvent()
				if err != nil {
					if errors.Is(err, protocol.ErrMalformedFrame) {
						fmt.Fprintf(cmd.ErrOrStderr(), "skipping malformed frame: %v\n", err)
						continue
					}
					if errors.Is(err, io.EOF) || ctx.Err() != nil {
						return nil
					}
					return err
				}
				printEvent(ev)
			}
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:7712", "daemon address")
	return cmd
}

func printEvent(ev *protocol.Event) {
	if jsonOutput {
		raw, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Println(string(raw))
		return
	}

	switch ev.Type {
	case protocol.EventStateChanged:
		var data protocol.StateChangedData
		if err := protocol.ParseData(ev.Data, &data); err != nil {
			return
		}
		switch {
		case data.Install != nil:
			fmt.Printf("state: %s\n", data.Install.Phase)
		case data.System != nil:
			fmt.Printf("state: %s\n", data.System.Phase)
		}
	case protocol.EventInstallLog, protocol.EventUpdateLog:
		var data protocol.LogLineData
		if err := protocol.ParseData(ev.Data, &data); err != nil {
			return
		}
		stream := "out"
		if data.Stderr {
			stream = "err"
		}
		fmt.Printf("%s: %s\n", stream, data.Line)
	case protocol.EventInstallStepUpdate:
		var data protocol.StepUpdateData
		if err := protocol.ParseData(ev.Data, &data); err != nil {
			return
		}
		fmt.Printf("step: %s %s\n", data.Step.Name, data.Step.Status)
	case protocol.EventError:
		var data protocol.ErrorData
		if err := protocol.ParseData(ev.Data, &data); err != nil {
			return
		}
		fmt.Printf("error: %s\n", data.Message)
	default:
		fmt.Printf("%s\n", ev.Type)
	}
}
