package command

import (
	"errors"
	"testing"
)

func TestNewRegistry(t *testing.T) {
	defs := []Definition{
		{Name: "save_settings", Aliases: []string{"settings_save"}, Classification: Authenticated, RiskScore: 10},
		{Name: "read_file", Classification: Privileged, RiskScore: 40},
	}

	r, err := NewRegistry(defs)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	// Canonical lookup.
	def, ok := r.Resolve("save_settings")
	if !ok || def.Name != "save_settings" {
		t.Errorf("Resolve(save_settings) = %v, %v", def, ok)
	}

	// Alias resolves to the same definition.
	aliased, ok := r.Resolve("settings_save")
	if !ok || aliased != def {
		t.Errorf("alias did not resolve to canonical definition")
	}

	if _, ok := r.Resolve("missing"); ok {
		t.Error("Resolve(missing) should fail")
	}
}

func TestNewRegistryRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		defs    []Definition
		wantErr error
	}{
		{
			name: "duplicate name",
			defs: []Definition{
				{Name: "a"},
				{Name: "a"},
			},
			wantErr: ErrDuplicateCommand,
		},
		{
			name: "alias collides with name",
			defs: []Definition{
				{Name: "a"},
				{Name: "b", Aliases: []string{"a"}},
			},
			wantErr: ErrDuplicateCommand,
		},
		{
			name: "duplicate aliases",
			defs: []Definition{
				{Name: "a", Aliases: []string{"x"}},
				{Name: "b", Aliases: []string{"x"}},
			},
			wantErr: ErrDuplicateCommand,
		},
		{
			name:    "risk above range",
			defs:    []Definition{{Name: "a", RiskScore: 101}},
			wantErr: ErrInvalidRiskScore,
		},
		{
			name:    "risk below range",
			defs:    []Definition{{Name: "a", RiskScore: -1}},
			wantErr: ErrInvalidRiskScore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.defs)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewRegistry error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCountByClassification(t *testing.T) {
	r, err := NewRegistry([]Definition{
		{Name: "a", Classification: Public},
		{Name: "b", Classification: Public},
		{Name: "c", Classification: Blocked},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	counts := r.CountByClassification()
	if counts[Public] != 2 || counts[Blocked] != 1 {
		t.Errorf("CountByClassification() = %v", counts)
	}
}

func TestFlattenRoles(t *testing.T) {
	specs := map[string]RoleSpec{
		"user":       {Grants: []string{"settings.read", "settings.write"}},
		"power-user": {Grants: []string{"files.read"}, Inherits: []string{"user"}},
		"admin":      {Grants: []string{"system.manage"}, Inherits: []string{"power-user"}},
	}

	flattened, err := FlattenRoles(specs)
	if err != nil {
		t.Fatalf("FlattenRoles: %v", err)
	}

	admin := flattened["admin"]
	for _, want := range []string{"system.manage", "files.read", "settings.read", "settings.write"} {
		if _, ok := admin[want]; !ok {
			t.Errorf("admin missing inherited permission %q", want)
		}
	}

	user := flattened["user"]
	if _, ok := user["files.read"]; ok {
		t.Error("user must not gain permissions from descendants")
	}
}

func TestFlattenRolesDiamond(t *testing.T) {
	// Diamond inheritance is legal; only cycles are rejected.
	specs := map[string]RoleSpec{
		"base":  {Grants: []string{"p.base"}},
		"left":  {Grants: []string{"p.left"}, Inherits: []string{"base"}},
		"right": {Grants: []string{"p.right"}, Inherits: []string{"base"}},
		"top":   {Inherits: []string{"left", "right"}},
	}

	flattened, err := FlattenRoles(specs)
	if err != nil {
		t.Fatalf("FlattenRoles: %v", err)
	}
	top := flattened["top"]
	for _, want := range []string{"p.base", "p.left", "p.right"} {
		if _, ok := top[want]; !ok {
			t.Errorf("top missing %q", want)
		}
	}
}

func TestFlattenRolesErrors(t *testing.T) {
	tests := []struct {
		name    string
		specs   map[string]RoleSpec
		wantErr error
	}{
		{
			name: "direct cycle",
			specs: map[string]RoleSpec{
				"a": {Inherits: []string{"b"}},
				"b": {Inherits: []string{"a"}},
			},
			wantErr: ErrRoleCycle,
		},
		{
			name: "self cycle",
			specs: map[string]RoleSpec{
				"a": {Inherits: []string{"a"}},
			},
			wantErr: ErrRoleCycle,
		},
		{
			name: "unknown parent",
			specs: map[string]RoleSpec{
				"a": {Inherits: []string{"ghost"}},
			},
			wantErr: ErrUnknownRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FlattenRoles(tt.specs)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FlattenRoles error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseClassification(t *testing.T) {
	for c, name := range classificationNames {
		parsed, err := ParseClassification(name)
		if err != nil || parsed != c {
			t.Errorf("ParseClassification(%q) = %v, %v", name, parsed, err)
		}
	}
	if _, err := ParseClassification("sudo"); !errors.Is(err, ErrUnknownClassification) {
		t.Errorf("ParseClassification(sudo) error = %v", err)
	}
}

func TestClassificationOrdering(t *testing.T) {
	// The enum ordering is part of the contract: Public < ... < Blocked.
	ordered := []Classification{Public, Authenticated, Privileged, Administrative, Restricted, Blocked}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1] >= ordered[i] {
			t.Errorf("%v should sort before %v", ordered[i-1], ordered[i])
		}
	}
}
