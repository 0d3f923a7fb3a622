// Package influxdb records KNX bus telemetry in InfluxDB v2.
//
// Every group write and response seen on the bus becomes a knx_telegram
// point tagged by group address, source, service and DPT. Periodic link
// counter snapshots go to knx_link.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.Options{Site: cfg.Site.ID})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelegram(influxdb.Telegram{Destination: "1/2/3", Value: 21.5, Raw: raw})
//
// Writes are non-blocking and batched per batch_size and flush_interval.
// Connection and health check errors are returned directly; batch errors
// go to Options.OnError as *WriteError.
package influxdb
