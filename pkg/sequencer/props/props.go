// Package props holds the property plumbing shared by built-in plan nodes: a guarded
// property value and struct tag validation rendered as issue strings.
package props

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/skyrun/pkg/sequencer"
)

var validate = validator.New()

// Validate turns struct tag violations into issue strings of the form
// "Field must satisfy tag=param".
func Validate(v any) []string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	issues := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, fmt.Sprintf("%s must satisfy %s", fe.Field(), tagWithParam(fe)))
	}
	return issues
}

func tagWithParam(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// Value guards a property struct that may only change while its node is not running.
type Value[T any] struct {
	mu    sync.RWMutex
	value T
}

// New returns a Value holding v.
func New[T any](v T) Value[T] {
	return Value[T]{value: v}
}

// Get returns a copy of the value.
func (p *Value[T]) Get() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set replaces the value.
func (p *Value[T]) Set(v T) {
	p.mu.Lock()
	p.value = v
	p.mu.Unlock()
}

// Ptr exposes the value for decoding. Callers must not use it while the node runs.
func (p *Value[T]) Ptr() *T {
	return &p.value
}

// Clone returns a deep copy of the value.
func (p *Value[T]) Clone() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sequencer.CloneValue(p.value)
}
