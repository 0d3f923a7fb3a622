package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/dpt"
)

func newReadCmd(v *viper.Viper) *cobra.Command {
	var dptID string

	cmd := &cobra.Command{
		Use:   "read <group-address>",
		Short: "Read a group value",
		Long: `Read sends GroupValue_Read to a group address and prints the first
GroupValue_Response. With --dpt the payload is decoded.`,
		Example: `  knxctl read 1/2/3 --dpt 1.001
  knxctl read 3/1/0 --dpt 9.001 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ga, err := address.ParseGroup(args[0])
			if err != nil {
				return err
			}
			if dptID != "" {
				if _, err := dpt.BitLength(dptID); err != nil {
					return err
				}
			}

			client, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck // best-effort teardown

			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration(keyTimeout))
			defer cancel()
			ev, err := client.Read(ctx, ga.String())
			if err != nil {
				return err
			}

			s := summarizeEvent(ev, dptID)
			return newPrinter(cmd.OutOrStdout(), v.GetString(keyOutput)).print(s, s.text())
		},
	}

	cmd.Flags().StringVarP(&dptID, "dpt", "d", "", "Datapoint type for decoding (e.g. 9.001)")
	return cmd
}
