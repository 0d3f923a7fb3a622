package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/dpt"
)

func newWriteCmd(v *viper.Viper) *cobra.Command {
	var (
		dptID string
		raw   bool
		bits  int
	)

	cmd := &cobra.Command{
		Use:   "write <group-address> <value>",
		Short: "Write a group value",
		Long: `Write sends GroupValue_Write to a group address. The value is encoded
with --dpt (booleans accept on/off, true/false and 1/0), or taken as hex
bytes with --raw.`,
		Example: `  knxctl write 1/2/3 on --dpt 1.001
  knxctl write 2/0/4 55.5 --dpt 5.001
  knxctl write 4/1/0 0c1a --raw --bits 16`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ga, err := address.ParseGroup(args[0])
			if err != nil {
				return err
			}

			var payload []byte
			if raw {
				if payload, err = parseHex(args[1]); err != nil {
					return err
				}
			} else {
				if dptID == "" {
					return fmt.Errorf("--dpt is required unless --raw is set")
				}
				// Validate before connecting.
				if _, _, err := dpt.Encode(args[1], dptID); err != nil {
					return err
				}
			}

			client, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck // best-effort teardown

			if raw {
				err = client.WriteRaw(cmd.Context(), ga.String(), payload, bits)
			} else {
				err = client.Write(cmd.Context(), ga.String(), args[1], dptID)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s to %s\n", args[1], ga)
			return err
		},
	}

	cmd.Flags().StringVarP(&dptID, "dpt", "d", "", "Datapoint type for encoding (e.g. 1.001)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Treat the value as hex payload bytes")
	cmd.Flags().IntVar(&bits, "bits", 0, "Payload bit length for --raw (0 infers it)")
	return cmd
}
