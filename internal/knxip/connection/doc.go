// Package connection implements the KNXnet/IP connection state machine and
// the client built on it.
//
// # Architecture
//
//	┌────────────┐  signals   ┌─────────────────────┐  datagrams  ┌───────────┐
//	│   Client   │ ─────────▶ │ Machine (goroutine) │ ──────────▶ │ Transport │
//	│ Write/Read │            │ looplab/fsm table   │ ◀────────── │ UDP/mcast │
//	└────────────┘            └──────────┬──────────┘             └───────────┘
//	                                     │ events
//	                                     ▼
//	                               ┌───────────┐
//	                               │  Emitter  │ ──▶ handlers (ordered)
//	                               └───────────┘
//
// The machine is the only owner of the socket, the session and the
// outstanding-request table. Timers, the transport receive loop and client
// calls never touch that state; they post signals to the machine's inbox.
//
// # States
//
//	uninitialized → connecting → connected → idle ⇄ requestingConnState
//	idle ⇄ sendingDatagram → waitingTunnelAck → idle
//	idle ⇄ receivingTunnelIndication
//	any → disconnecting → uninitialized
//
// Each state's timers are cancelled when it is left. Signals that a state
// cannot handle are deferred and replayed in arrival order once the machine
// is idle again.
//
// # Modes
//
// Tunneling opens a unicast control channel to a gateway, sequences and
// acknowledges every TUNNELING_REQUEST and heartbeats the channel every
// 60 s. Routing multicasts ROUTING_INDICATION frames with no handshake.
// When a tunneling gateway address is itself a multicast group and three
// CONNECT_REQUESTs go unanswered, the machine falls back to routing.
//
// # Events
//
// Lifecycle: connected, disconnected, error, confirmed, tunnelreqfailed.
// Telegrams to group 1/2/3 are emitted as event_1/2/3,
// GroupValue_Write_1/2/3, GroupValue_Write and event.
//
// # Constraints
//
// The outstanding table tracks one unconfirmed request per destination.
// Do not pipeline writes to the same group address before the previous one
// is confirmed; the later write replaces the earlier entry.
package connection
