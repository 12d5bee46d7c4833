// Package config loads the mirror server configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file (mirror.yaml in the working directory, or --config), MIRROR_*
// environment variables and command-line flags.
//
// # Configuration File Structure
//
//	addr: ":8080"
//	base_path: ""
//	shutdown_timeout: 15s
//	log:
//	  level: info
//	  format: text
//	metrics:
//	  enabled: true
//	  path: /metrics
//	server:
//	  heartbeat_interval: 5m
//	  push_mode: automatic
//	  push_transport: websocket
//	  trusted_proxies: ["10.0.0.0/8"]
//	store:
//	  sessions: sqlite:/var/lib/mirror/sessions.db
//	upload:
//	  max_size: 10485760
//	  s3:
//	    bucket: uploads
//	    region: eu-west-1
//
// Nested keys map to environment variables with underscores:
// server.push_mode is MIRROR_SERVER_PUSH_MODE.
//
// # Usage
//
//	l := config.NewLoader()
//	cfg, err := l.Load("")
//	if err == nil {
//	    err = cfg.Validate()
//	}
//	l.Watch(func(cfg *config.Config, err error) { ... })
package config
