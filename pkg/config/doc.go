// Package config loads the skyrun configuration.
//
// # Overview
//
// Configuration starts from DefaultConfig, which runs out of the box with an in-memory
// run history and simulated equipment. Files are layered on top in the order given to
// Load; each file may be YAML, JSON or CUE and is checked against a CUE schema before
// it is decoded, so typos in field names and out-of-range values are reported with
// their path (and, for CUE and JSON, their line):
//
//	cfg, err := config.Load("/etc/skyrun/skyrun.yaml", "observatory.cue")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Environment variables with the SKYRUN_ prefix are applied last, for example
// SKYRUN_LOG_LEVEL, SKYRUN_STORE_PATH, SKYRUN_REDIS_ADDR, SKYRUN_API_LISTEN and
// SKYRUN_POLICY_PATHS (comma separated). The merged configuration is validated with
// go-playground/validator tags and a few cross-field checks.
//
// # Sections
//
//   - telemetry: logging, tracing, metrics and events
//   - store: sqlite run history
//   - redis: optional live status mirror
//   - api: HTTP control API
//   - runner: retry delays between instruction attempts
//   - templates: template library directory
//   - policies: extra rego policy files
//   - equipment: simulated observatory
package config
