// ABOUTME: Package documentation for the config package
// ABOUTME: Describes the YAML configuration format

// Package config loads daybreak's YAML configuration.
//
// A minimal configuration file:
//
//	server:
//	  http_addr: ":8080"
//
//	database:
//	  path: "data/daybreak.db"
//	  sealing_key: "${DAYBREAK_SEALING_KEY}"
//
//	auth:
//	  jwt_secret: "${DAYBREAK_JWT_SECRET}"
//
//	chat:
//	  history_limit: 50
//	  upstream_timeout: "30s"
//
//	logging:
//	  level: "info"
//	  format: "text"
//
// Values of the form ${VAR} are expanded from the environment before the
// YAML is parsed, so secrets can stay out of the file. Duration fields take
// Go duration strings such as "30s" or "2m".
package config
