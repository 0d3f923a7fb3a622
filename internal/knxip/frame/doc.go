// Package frame implements the KNXnet/IP wire codec.
//
// It converts between raw UDP payloads and structured frames for the core,
// tunneling and routing services. The codec is pure: it holds no state and
// every function is safe for concurrent use.
//
// # Layout
//
// Every frame starts with the 6-byte header:
//
//	┌──────┬─────────┬──────────────┬──────────────┐
//	│ 0x06 │  0x10   │ service (2)  │ total len (2)│
//	└──────┴─────────┴──────────────┴──────────────┘
//
// The body depends on the service type and is built from fixed-size blocks
// (HPAI, CRI, connection state, tunneling state) and, for tunneling and
// routing, a cEMI message carrying the link-layer frame and APDU.
//
// # Encoding
//
//	f := frame.NewTunnelingRequest(channel, seq, cemi)
//	buf, err := frame.Marshal(f)
//
// Marshal computes the total length itself and rejects frames whose required
// sub-structures are missing or whose fields overflow their bit widths.
//
// # Decoding
//
//	f, err := frame.Unmarshal(buf)
//	switch body := f.Body.(type) {
//	case *frame.TunnelingRequest:
//	    ...
//	}
//
// Truncated or inconsistent input returns ErrDecoding. A frame with a service
// type this package does not model decodes to a header-only Frame with a nil
// Body; callers decide whether to log and drop it.
package frame
