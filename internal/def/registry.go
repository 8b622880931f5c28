package def

import (
	"fmt"
	"sort"
)

// DefaultProfileKind is the mandatory fallback time-profile key.
// Profile lookups for unknown operation kinds resolve to this entry.
const DefaultProfileKind = "default"

// Registry is the immutable definition set the engine runs against.
//
// Construct once at startup via NewRegistry (usually from a compiled CUE
// pack); all runtime components share the same instance. Reads are safe
// from any goroutine because nothing mutates a Registry after construction.
type Registry struct {
	actions   map[string]ActionDefinition
	profiles  map[string]TimeProfile
	contracts map[string]WorkflowContract
}

// NewRegistry validates every definition and builds the lookup maps.
//
// Fails if any definition is internally inconsistent, if ids collide
// within a kind, or if no "default" time profile is present.
func NewRegistry(actions []ActionDefinition, profiles []TimeProfile, contracts []WorkflowContract) (*Registry, error) {
	var errs []ValidationError

	r := &Registry{
		actions:   make(map[string]ActionDefinition, len(actions)),
		profiles:  make(map[string]TimeProfile, len(profiles)),
		contracts: make(map[string]WorkflowContract, len(contracts)),
	}

	for _, a := range actions {
		errs = append(errs, a.Validate()...)
		if _, dup := r.actions[a.ID]; dup {
			errs = append(errs, ValidationError{Field: "actions", Code: ErrDuplicateID, Message: fmt.Sprintf("duplicate action id %s", a.ID)})
			continue
		}
		r.actions[a.ID] = a
	}

	for _, p := range profiles {
		errs = append(errs, p.Validate()...)
		if _, dup := r.profiles[p.Kind]; dup {
			errs = append(errs, ValidationError{Field: "profiles", Code: ErrDuplicateID, Message: fmt.Sprintf("duplicate profile kind %s", p.Kind)})
			continue
		}
		r.profiles[p.Kind] = p
	}

	for _, c := range contracts {
		errs = append(errs, c.Validate()...)
		if _, dup := r.contracts[c.ID]; dup {
			errs = append(errs, ValidationError{Field: "contracts", Code: ErrDuplicateID, Message: fmt.Sprintf("duplicate contract id %s", c.ID)})
			continue
		}
		r.contracts[c.ID] = c
	}

	if _, ok := r.profiles[DefaultProfileKind]; !ok {
		errs = append(errs, ValidationError{Field: "profiles", Code: ErrNoDefaultProfile, Message: `a "default" time profile is required`})
	}

	if len(errs) > 0 {
		return nil, RegistryError{Errors: errs}
	}
	return r, nil
}

// RegistryError aggregates every validation error found while building a
// Registry, so a definition pack author sees all problems at once.
type RegistryError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e RegistryError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more definition errors)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Action returns the action definition for the given id.
func (r *Registry) Action(id string) (ActionDefinition, bool) {
	a, ok := r.actions[id]
	return a, ok
}

// Profile returns the time profile for the given operation kind, falling
// back to the mandatory "default" entry when the kind is unknown.
func (r *Registry) Profile(kind string) TimeProfile {
	if p, ok := r.profiles[kind]; ok {
		return p
	}
	return r.profiles[DefaultProfileKind]
}

// Contract returns the workflow contract for the given id.
func (r *Registry) Contract(id string) (WorkflowContract, bool) {
	c, ok := r.contracts[id]
	return c, ok
}

// ActionIDs returns all registered action ids in sorted order.
func (r *Registry) ActionIDs() []string {
	return sortedKeys(r.actions)
}

// ProfileKinds returns all registered profile kinds in sorted order.
func (r *Registry) ProfileKinds() []string {
	return sortedKeys(r.profiles)
}

// ContractIDs returns all registered contract ids in sorted order.
func (r *Registry) ContractIDs() []string {
	return sortedKeys(r.contracts)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
