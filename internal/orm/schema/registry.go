package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all model schemas of an application
type Registry struct {
	schemas map[string]*ModelSchema
	mu      sync.RWMutex
}

// NewRegistry creates a new schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*ModelSchema),
	}
}

// Register registers a new model schema
func (r *Registry) Register(schema *ModelSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[schema.Name]; exists {
		return fmt.Errorf("model %s is already registered", schema.Name)
	}
	r.schemas[schema.Name] = schema
	return nil
}

// Get retrieves a model schema by name
func (r *Registry) Get(name string) (*ModelSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, exists := r.schemas[name]
	return schema, exists
}

// List returns the registered model names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAll checks that every foreign key targets a registered model.
// Forward references are allowed at Register time, so this runs once all models are known.
func (r *Registry) ValidateAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.schemas) {
		for _, f := range r.schemas[name].ForeignKeys() {
			if _, ok := r.schemas[f.Relation.TargetModel]; !ok {
				return fmt.Errorf("model %s: field %s references unknown model %s",
					name, f.Name, f.Relation.TargetModel)
			}
		}
	}
	return nil
}

// Clear removes all registered schemas (useful for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schemas = make(map[string]*ModelSchema)
}

// Count returns the number of registered schemas
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.schemas)
}

func sortedKeys(m map[string]*ModelSchema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
