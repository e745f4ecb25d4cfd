// Package config loads the acqstream daemon configuration.
//
// A Loader starts from Default, deep-merges each layer file in order, then
// applies environment overrides and finally validates:
//
//	loader := config.NewLoader()
//	loader.AddLayer("acqstream.yaml")
//	loader.AddLayer("site.json") // overrides acqstream.yaml
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Layers are JSON or YAML, chosen by extension. Keys ending in timeout,
// interval or _wait take Go duration strings ("250ms", "2s") or whole days
// ("1d").
//
// # Environment
//
// Every field can be overridden by ACQSTREAM_<SECTION>_<FIELD>, where the
// names are the JSON keys upper-cased. Lists are comma separated:
//
//	ACQSTREAM_SERVER_HOST=10.0.0.7
//	ACQSTREAM_SERVER_DISCOVER=false
//	ACQSTREAM_SESSION_CHANNELS=analog:0,analog:1
//	ACQSTREAM_NATS_URLS=nats://a:4222,nats://b:4222
//
// # Example
//
//	version: 1.0.0
//	server:
//	  discover: true
//	  discovery_timeout: 2s
//	session:
//	  channels: ["analog:0", "digital:2"]
//	  batch_size: 100
//	  port_min: 16214
//	  port_max: 18000
//	drain:
//	  interval: 50ms
//	nats:
//	  enabled: true
//	  urls: ["nats://localhost:4222"]
//	  subject_prefix: acq.samples
//	  encoding: msgpack
//	websocket:
//	  enabled: true
//	  path: /ws
//	http:
//	  listen_addr: ":8080"
//	log:
//	  level: info
//	  format: json
//
// SafeConfig guards a Config shared between goroutines; Get and Update
// both copy.
package config
