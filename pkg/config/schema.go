package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// configSchema describes the shape of a configuration file. Semantic constraints that
// depend on several fields live in Config.Validate.
const configSchema = `
#Duration: string | int

#Config: {
	telemetry?: {
		service_name?:    string
		service_version?: string
		environment?:     string
		logging?: {
			level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
			format?: "console" | "json"
			output?: string
			...
		}
		tracing?: {
			enabled?:        bool
			exporter?:       "otlp" | "stdout" | "none"
			endpoint?:       string
			sampling_rate?:  number & >=0 & <=1
			export_timeout?: #Duration
			...
		}
		metrics?: {
			enabled?:        bool
			listen_address?: string
			path?:           string
			namespace?:      string
			...
		}
		events?: {
			enabled?:        bool
			flush_interval?: #Duration
			...
		}
		...
	}
	store?: {
		path?:              string & !=""
		max_open_conns?:    int & >=0
		max_idle_conns?:    int & >=0
		conn_max_lifetime?: #Duration
	}
	redis?: {
		enabled?:  bool
		addr?:     string
		password?: string
		db?:       int & >=0
		prefix?:   string
		ttl?:      #Duration
	}
	api?: {
		listen?:           string & !=""
		shutdown_timeout?: #Duration
	}
	runner?: {
		retry_delay?:     #Duration
		max_retry_delay?: #Duration
	}
	templates?: {
		dir?:   string
		watch?: bool
	}
	policies?: {
		paths?: [...string]
		watch?: bool
	}
	equipment?: {
		filters?: [...string]
		timings?: {
			exposure_scale?: number & >=0
			slew?:           #Duration
			focuser_step?:   #Duration
			filter_change?:  #Duration
			shutter?:        #Duration
			guide_settle?:   #Duration
		}
	}
}
`

// schema holds the compiled configuration schema.
type schema struct {
	mu     sync.Mutex
	ctx    *cue.Context
	config cue.Value
}

var (
	schemaOnce sync.Once
	compiled   *schema
	schemaErr  error
)

// loadSchema compiles the configuration schema once.
func loadSchema() (*schema, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		val := ctx.CompileString(configSchema, cue.Filename("config.cue"))
		if err := val.Err(); err != nil {
			schemaErr = fmt.Errorf("failed to compile config schema: %w", err)
			return
		}
		compiled = &schema{ctx: ctx, config: val.LookupPath(cue.ParsePath("#Config"))}
	})
	return compiled, schemaErr
}

// decodeCUE compiles CUE source, checks it against the schema and returns the plain data.
func (s *schema) decodeCUE(src []byte, filename string) (map[string]any, []ValidationError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val := s.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err), nil
	}
	return s.unify(val)
}

// check validates data decoded from YAML or JSON against the schema.
func (s *schema) check(data map[string]any) ([]ValidationError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val := s.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, problems, err := s.unify(val)
	return problems, err
}

func (s *schema) unify(val cue.Value) (map[string]any, []ValidationError, error) {
	unified := s.config.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err), nil
	}
	var data map[string]any
	if err := unified.Decode(&data); err != nil {
		return nil, nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return data, nil, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}
