package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

func newDecodeCmd(v *viper.Viper) *cobra.Command {
	var dptID string

	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a KNXnet/IP datagram given as hex",
		Long: `Decode parses one KNXnet/IP datagram and prints its service, connection
header and cEMI content. Spaces, colons and a 0x prefix are ignored.`,
		Example: `  knxctl decode 061004200015040200002e00bce000000832010081
  knxctl decode "06 10 05 30 00 11 29 00 bc e0 11 14 0a 03 01 00 81" --dpt 1.001`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := decodeHex(strings.Join(args, ""), dptID)
			if err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), v.GetString(keyOutput)).print(s, s.text())
		},
	}

	cmd.Flags().StringVar(&dptID, "dpt", "", "Decode the payload as this datapoint type")
	return cmd
}

// decodeHex parses a datagram written as hex.
func decodeHex(s, dptID string) (frameSummary, error) {
	raw, err := parseHex(s)
	if err != nil {
		return frameSummary{}, err
	}
	f, err := frame.Unmarshal(raw)
	if err != nil {
		return frameSummary{}, fmt.Errorf("decode frame: %w", err)
	}
	sum := summarizeFrame(f)
	if dptID != "" {
		withValue(&sum, f, dptID)
	}
	return sum, nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "\t", "", "\n", "").Replace(s)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return raw, nil
}
