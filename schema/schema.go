// Package schema is the declarative validation layer for every wire
// structure the gateway accepts or returns: the datastore descriptor,
// device root page, file entry, mutation request/response envelopes, and
// the put-datastore response. Higher layers depend on this package for
// "what the gateway accepts" instead of hand-checking fields inline.
//
// Grounded on SPEC_FULL.md §4.11's domain-stack wiring of
// github.com/xeipuuv/gojsonschema, the JSON Schema validator used by
// other manifest-driven tools in the retrieval pack.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Name identifies a registered schema.
type Name string

const (
	DatastoreDescriptor Name = "datastore_descriptor"
	DeviceRootPage      Name = "device_root_page"
	FileEntry           Name = "file_entry"
	MutationRequest     Name = "mutation_request"
	MutationResponse    Name = "mutation_response"
	PutDatastoreResp    Name = "put_datastore_response"
)

// Registry holds compiled schemas keyed by Name.
type Registry struct {
	mu      sync.RWMutex
	schemas map[Name]*gojsonschema.Schema
}

// NewRegistry builds a Registry preloaded with every wire schema this
// protocol defines.
func NewRegistry() (*Registry, error) {
	r := &Registry{schemas: make(map[Name]*gojsonschema.Schema)}
	for name, raw := range rawSchemas {
		loader := gojsonschema.NewStringLoader(raw)
		compiled, err := gojsonschema.NewSchema(loader)
		if err != nil {
			return nil, fmt.Errorf("schema: compile %s: %w", name, err)
		}
		r.schemas[name] = compiled
	}
	return r, nil
}

// ValidationError carries gojsonschema's result errors in a form callers
// can inspect without importing gojsonschema themselves.
type ValidationError struct {
	Schema Name
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: %s validation failed: %v", e.Schema, e.Errors)
}

// Validate checks doc (any JSON-marshalable value, or raw JSON bytes)
// against the named schema.
func (r *Registry) Validate(name Name, doc any) error {
	r.mu.RLock()
	s, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schema: unknown schema %s", name)
	}

	var loader gojsonschema.JSONLoader
	if raw, ok := doc.([]byte); ok {
		loader = gojsonschema.NewBytesLoader(raw)
	} else if raw, ok := doc.(string); ok {
		loader = gojsonschema.NewStringLoader(raw)
	} else {
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("schema: marshal doc for %s: %w", name, err)
		}
		loader = gojsonschema.NewBytesLoader(b)
	}

	result, err := s.Validate(loader)
	if err != nil {
		return fmt.Errorf("schema: validate %s: %w", name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ValidationError{Schema: name, Errors: msgs}
	}
	return nil
}
