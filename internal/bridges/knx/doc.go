// Package knx bridges the KNX bus to MQTT.
//
// The bridge sits on top of a KNXnet/IP connection (routing or tunneling)
// and translates in both directions:
//
//	┌─────────────────┐          ┌─────────────────┐  KNXnet/IP
//	│  MQTT consumers │   MQTT   │   KNX Bridge    │◄──────────► KNX Bus
//	│                 │◄────────►│   (this pkg)    │  UDP 3671
//	└─────────────────┘          └─────────────────┘
//
// # Responsibilities
//
//   - Translate knxip/command/{device_id} messages into group writes
//   - Answer knxip/request/{request_id} read requests
//   - Publish decoded device state to knxip/state/{device_id} (retained,
//     only when a value changes)
//   - Mirror every group telegram to knxip/bus/{ga}
//   - Record group and individual addresses seen on the bus
//   - Publish health to knxip/health with an MQTT last will
//
// # Device file
//
// Devices map function names to group addresses and datapoint types:
//
//	bridge:
//	  id: knx-bridge-01
//	  health_interval: 30
//	devices:
//	  - device_id: light-living-main
//	    type: light_dimmer
//	    addresses:
//	      switch:            { ga: "1/0/1", dpt: "1.001", flags: [write] }
//	      switch_status:     { ga: "1/0/2", dpt: "1.001", flags: [read, transmit] }
//	      brightness:        { ga: "1/0/3", dpt: "5.001", flags: [write] }
//	      brightness_status: { ga: "1/0/4", dpt: "5.001", flags: [read, transmit] }
//
// Function names are normalised through CanonicalFunctions, which also
// supplies the state key each function reports under.
package knx
