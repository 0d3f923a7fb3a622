package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

type dumpFlags struct {
	dpt     string
	group   string
	max     int
	skipBad bool
}

func newDumpCmd(v *viper.Viper) *cobra.Command {
	flags := &dumpFlags{}

	cmd := &cobra.Command{
		Use:   "dump <capture.pcap>",
		Short: "Decode KNXnet/IP frames from a packet capture",
		Long: `Dump reads a pcap or pcapng file and decodes every UDP datagram to or
from the KNXnet/IP port (--port, default 3671).`,
		Example: `  knxctl dump capture.pcap
  knxctl dump capture.pcapng --group 1/2/3 --dpt 1.001 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open capture: %w", err)
			}
			defer f.Close()

			if flags.group != "" {
				ga, err := address.ParseGroup(flags.group)
				if err != nil {
					return err
				}
				flags.group = ga.String()
			}

			p := newPrinter(cmd.OutOrStdout(), v.GetString(keyOutput))
			n, err := dumpCapture(f, p, uint16(v.GetInt(keyPort)), flags) //nolint:gosec // port flag
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d KNXnet/IP frames\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.dpt, "dpt", "d", "", "Decode payloads as this datapoint type")
	cmd.Flags().StringVar(&flags.group, "group", "", "Only show frames for this group address")
	cmd.Flags().IntVar(&flags.max, "max", 0, "Stop after this many frames (0 for all)")
	cmd.Flags().BoolVar(&flags.skipBad, "skip-invalid", false, "Omit datagrams that fail to decode")
	return cmd
}

// openCapture picks the pcap or pcapng reader by file magic.
func openCapture(r io.Reader) (gopacket.PacketDataSource, gopacket.Decoder, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, nil, fmt.Errorf("read capture header: %w", err)
	}
	// Section header block type.
	if magic[0] == 0x0A && magic[1] == 0x0D && magic[2] == 0x0D && magic[3] == 0x0A {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, nil, fmt.Errorf("open pcapng: %w", err)
		}
		return ng, ng.LinkType(), nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, nil, fmt.Errorf("open pcap: %w", err)
	}
	return pr, pr.LinkType(), nil
}

// dumpCapture prints the KNXnet/IP frames in a capture and returns how
// many were printed.
func dumpCapture(r io.Reader, p *printer, port uint16, flags *dumpFlags) (int, error) {
	src, decoder, err := openCapture(r)
	if err != nil {
		return 0, err
	}

	packets := gopacket.NewPacketSource(src, decoder)
	count := 0
	for {
		packet, err := packets.NextPacket()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read packet: %w", err)
		}

		s, ok := summarizePacket(packet, port, flags)
		if !ok {
			continue
		}
		if err := p.print(s, s.text()); err != nil {
			return count, err
		}
		count++
		if flags.max > 0 && count >= flags.max {
			return count, nil
		}
	}
}

// summarizePacket decodes one captured packet. It reports false for
// traffic that is not KNXnet/IP or that the filters exclude.
func summarizePacket(packet gopacket.Packet, port uint16, flags *dumpFlags) (frameSummary, bool) {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return frameSummary{}, false
	}
	udp, _ := udpLayer.(*layers.UDP)
	if uint16(udp.SrcPort) != port && uint16(udp.DstPort) != port {
		return frameSummary{}, false
	}
	if len(udp.Payload) == 0 {
		return frameSummary{}, false
	}

	at := packet.Metadata().Timestamp
	from := strconv.Itoa(int(udp.SrcPort))
	if nl := packet.NetworkLayer(); nl != nil {
		from = net.JoinHostPort(nl.NetworkFlow().Src().String(), from)
	}

	f, err := frame.Unmarshal(udp.Payload)
	if err != nil {
		if flags.skipBad || flags.group != "" {
			return frameSummary{}, false
		}
		return frameSummary{Time: &at, From: from, Service: "INVALID", Error: err.Error()}, true
	}

	s := summarizeFrame(f)
	if flags.group != "" && s.Destination != flags.group {
		return frameSummary{}, false
	}
	s.Time = &at
	s.From = from
	if flags.dpt != "" {
		withValue(&s, f, flags.dpt)
	}
	return s, true
}
