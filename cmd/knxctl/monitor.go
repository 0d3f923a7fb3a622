package main

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
)

func newMonitorCmd(v *viper.Viper) *cobra.Command {
	var (
		filter string
		dptID  string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print bus telegrams as they arrive",
		Long: `Monitor connects to the bus and prints every telegram until interrupted.
Link drops and reconnects are printed as they happen. With --group only one
group address is shown.`,
		Example: `  knxctl monitor
  knxctl monitor --group 3/1/0 --dpt 9.001 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter != "" {
				ga, err := address.ParseGroup(filter)
				if err != nil {
					return err
				}
				filter = ga.String()
			}

			client, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck // best-effort teardown

			p := newPrinter(cmd.OutOrStdout(), v.GetString(keyOutput))
			return monitor(cmd.Context(), client, p, filter, dptID)
		},
	}

	cmd.Flags().StringVar(&filter, "group", "", "Only show telegrams for this group address")
	cmd.Flags().StringVarP(&dptID, "dpt", "d", "", "Decode payloads as this datapoint type")
	return cmd
}

// eventSource is the part of the client monitor subscribes to.
type eventSource interface {
	On(name string, h connection.Handler) connection.Subscription
	Off(id connection.Subscription)
}

// monitor prints telegrams and link changes until ctx is done.
func monitor(ctx context.Context, src eventSource, p *printer, filter, dptID string) error {
	var mu sync.Mutex
	emit := func(s frameSummary) {
		mu.Lock()
		defer mu.Unlock()
		p.print(s, s.text()) //nolint:errcheck // stdout
	}

	name := connection.EventAny
	if filter != "" {
		name = connection.DestinationEvent(filter)
	}
	subs := []connection.Subscription{
		src.On(name, func(ev connection.Event) { emit(summarizeEvent(ev, dptID)) }),
		src.On(connection.EventConnected, func(ev connection.Event) { emit(summarizeLink(ev)) }),
		src.On(connection.EventDisconnected, func(ev connection.Event) { emit(summarizeLink(ev)) }),
	}
	defer func() {
		for _, sub := range subs {
			src.Off(sub)
		}
	}()

	<-ctx.Done()
	return nil
}
