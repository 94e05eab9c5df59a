package plan

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/goccy/go-json"
)

// SchemaIssue is one structural problem found in a document.
type SchemaIssue struct {
	// Path is the dotted path of the offending field, e.g. "root.items.0.attempts".
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (i SchemaIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// SchemaError is returned when a document does not match the document schema.
type SchemaError struct {
	Issues []SchemaIssue
}

func (e *SchemaError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
	}
	return "document does not match schema: " + strings.Join(msgs, "; ")
}

// Schema checks document structure before any node is built. It does not know about
// node types; properties are checked by the nodes themselves.
type Schema struct {
	mu       sync.Mutex
	ctx      *cue.Context
	document cue.Value
}

// NewSchema compiles the document schema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(documentSchema, cue.Filename("document.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile document schema: %w", err)
	}
	doc := val.LookupPath(cue.ParsePath("#Document"))
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile document schema: %w", err)
	}
	return &Schema{ctx: ctx, document: doc}, nil
}

// Validate checks doc against the schema. The error is a *SchemaError when the
// document was readable but wrong.
func (s *Schema) Validate(doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	// A cue.Context is not safe for concurrent use.
	s.mu.Lock()
	defer s.mu.Unlock()

	val := s.ctx.CompileBytes(data, cue.Filename("plan.json"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	unified := s.document.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Issues: convertCUEErrors(err)}
	}
	return nil
}

func convertCUEErrors(err error) []SchemaIssue {
	var issues []SchemaIssue
	seen := make(map[string]bool)
	for _, e := range errors.Errors(err) {
		issue := SchemaIssue{
			Path:    strings.Join(errors.Path(e), "."),
			Message: strings.TrimSpace(errors.Details(e, nil)),
		}
		if seen[issue.String()] {
			continue
		}
		seen[issue.String()] = true
		issues = append(issues, issue)
	}
	return issues
}

const documentSchema = `
#Document: {
	version:      =~"^[0-9]+\\.[0-9]+\\.[0-9]+"
	name:         string & !=""
	description?: string
	root:         #Node & {type: "container.root"}
}

#ErrorBehavior: "continue_on_error" | "skip_instruction_set_on_error" | "abort_on_error" | "skip_to_sequence_end_on_error"

#Target: {
	name: string & !=""
	coordinates: {
		ra:  number & >=0 & <24
		dec: number & >=-90 & <=90
	}
	position_angle?: number & >=0 & <360
}

#Node: {
	id?:                    string
	type:                   string & =~"^[a-z][a-z0-9_.]*$"
	name:                   string
	description?:           string
	category?:              string
	icon?:                  string
	disabled?:              bool
	error_behavior?:        #ErrorBehavior
	attempts?:              int & >=1
	properties?:            {...}
	target?:                #Target
	trigger_failure_fatal?: bool
	items?:                 [...#Node]
	conditions?:            [...#Node]
	triggers?:              [...#Node]
	steps?:                 [...#Node]
	end?:                   [...#Node]
}
`
