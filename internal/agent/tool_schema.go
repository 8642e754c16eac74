package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each tool's declared input schema once and validates
// submitted parameters against it before dispatch. Tools whose schemas fail
// to compile are dispatched unvalidated rather than made unusable.
type schemaCache struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{compiled: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.compiled, name)
}

func (c *schemaCache) schemaFor(name string, raw json.RawMessage) *jsonschema.Schema {
	c.mu.RLock()
	sch, ok := c.compiled[name]
	c.mu.RUnlock()
	if ok {
		return sch
	}

	if len(raw) == 0 {
		return nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		compiled = nil
	}

	c.mu.Lock()
	c.compiled[name] = compiled
	c.mu.Unlock()
	return compiled
}

// validate checks params against the tool's schema. A nil error means the
// input is acceptable (or the schema was absent/uncompilable).
func (c *schemaCache) validate(name string, schema json.RawMessage, params json.RawMessage) error {
	sch := c.schemaFor(name, schema)
	if sch == nil {
		return nil
	}

	var value interface{}
	if len(params) == 0 {
		value = map[string]interface{}{}
	} else if err := json.Unmarshal(params, &value); err != nil {
		return fmt.Errorf("parameters are not valid JSON: %w", err)
	}

	if err := sch.Validate(value); err != nil {
		return fmt.Errorf("parameters do not match the tool schema: %w", err)
	}
	return nil
}
