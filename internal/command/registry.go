package command

import (
	"fmt"
	"sort"
)

// Registry is the immutable command table, indexed by canonical name and by
// alias. Built once at startup; read-only afterwards, so no locking is needed.
type Registry struct {
	byName map[string]*Definition // canonical names and aliases
	defs   []*Definition          // canonical definitions only
}

// NewRegistry builds a registry from definitions. Duplicate names or aliases
// and out-of-range risk scores are build errors, never runtime surprises.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*Definition, len(defs)*2),
		defs:   make([]*Definition, 0, len(defs)),
	}

	for i := range defs {
		def := defs[i]
		if def.Name == "" {
			return nil, fmt.Errorf("definition %d: empty command name", i)
		}
		if def.RiskScore < 0 || def.RiskScore > 100 {
			return nil, fmt.Errorf("%w: command %q has risk %d", ErrInvalidRiskScore, def.Name, def.RiskScore)
		}
		if _, exists := r.byName[def.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateCommand, def.Name)
		}

		stored := def
		r.byName[def.Name] = &stored
		r.defs = append(r.defs, &stored)

		for _, alias := range def.Aliases {
			if _, exists := r.byName[alias]; exists {
				return nil, fmt.Errorf("%w: alias %q", ErrDuplicateCommand, alias)
			}
			r.byName[alias] = &stored
		}
	}

	return r, nil
}

// Resolve looks up a command by canonical name or alias.
func (r *Registry) Resolve(name string) (*Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// Len returns the number of canonical definitions.
func (r *Registry) Len() int {
	return len(r.defs)
}

// CountByClassification returns the number of registered commands per tier,
// for the statistics surface.
func (r *Registry) CountByClassification() map[Classification]int {
	counts := make(map[Classification]int)
	for _, def := range r.defs {
		counts[def.Classification]++
	}
	return counts
}

// Names returns the sorted canonical command names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for _, def := range r.defs {
		names = append(names, def.Name)
	}
	sort.Strings(names)
	return names
}

// RoleSpec describes one role as configured: its direct permission grants and
// the roles it inherits from.
type RoleSpec struct {
	Grants   []string
	Inherits []string
}

// FlattenRoles resolves the role inheritance graph into effective per-role
// permission sets. The graph must be acyclic; a cycle or a reference to an
// undefined role is a build error.
func FlattenRoles(specs map[string]RoleSpec) (map[string]Permissions, error) {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(specs))
	flattened := make(map[string]Permissions, len(specs))

	var resolve func(role string) (Permissions, error)
	resolve = func(role string) (Permissions, error) {
		spec, ok := specs[role]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
		switch state[role] {
		case done:
			return flattened[role], nil
		case visiting:
			return nil, fmt.Errorf("%w: via role %q", ErrRoleCycle, role)
		}

		state[role] = visiting
		effective := NewPermissions(spec.Grants...)
		for _, parent := range spec.Inherits {
			inherited, err := resolve(parent)
			if err != nil {
				return nil, err
			}
			for token := range inherited {
				effective[token] = struct{}{}
			}
		}
		state[role] = done
		flattened[role] = effective
		return effective, nil
	}

	for role := range specs {
		if _, err := resolve(role); err != nil {
			return nil, err
		}
	}
	return flattened, nil
}
