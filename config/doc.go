// Package config loads zonewatch configuration.
//
// Configuration is layered: built-in defaults, then one or more JSON or YAML
// files, then ZONEWATCH_* environment variables. Durations are Go duration
// strings.
//
//	cfg, err := config.Load("/etc/zonewatch/config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// A minimal YAML file for the MQTT transport:
//
//	broker:
//	  endpoint: a1b2c3-ats.iot.us-east-1.amazonaws.com
//	  tls:
//	    ca_files: [/etc/zonewatch/AmazonRootCA1.pem]
//	    skip_hostname_verification: true
//	    mtls:
//	      cert_file: /etc/zonewatch/device.pem.crt
//	      key_file: /etc/zonewatch/private.pem.key
//
// Environment overrides:
//
//	ZONEWATCH_BROKER_TRANSPORT, ZONEWATCH_BROKER_ENDPOINT, ZONEWATCH_BROKER_PORT,
//	ZONEWATCH_BROKER_CLIENT_ID, ZONEWATCH_PRODUCER_CLIENT_ID,
//	ZONEWATCH_TLS_CA_FILES (comma separated), ZONEWATCH_TLS_CERT_FILE,
//	ZONEWATCH_TLS_KEY_FILE, ZONEWATCH_TLS_SERVER_NAME,
//	ZONEWATCH_TLS_SKIP_HOSTNAME_VERIFICATION, ZONEWATCH_TOPIC_PREFIX,
//	ZONEWATCH_ZONES (comma separated), ZONEWATCH_HTTP_ADDR,
//	ZONEWATCH_METRICS_PORT, ZONEWATCH_METRICS_PATH,
//	ZONEWATCH_LOG_LEVEL, ZONEWATCH_LOG_FORMAT
//
// Validate reports every problem at once as an error matching
// errors.ErrInvalidConfig.
package config
