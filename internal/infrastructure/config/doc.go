// Package config loads knxipd's YAML configuration.
//
// Values come from three layers, each overriding the last: built-in
// defaults, the YAML file, then KNXIP_* environment variables such as
// KNXIP_GATEWAY_HOST or KNXIP_MQTT_PASSWORD. Keep the MQTT password and
// the InfluxDB token in the environment and the file at mode 0600.
//
//	cfg, err := config.Load("/etc/knxipd/knxipd.yaml")
package config
