package command

import (
	"testing"

	"github.com/autodev-ai/secgate/internal/log"
)

func testValidator(t *testing.T) *Validator {
	t.Helper()
	registry, err := NewRegistry([]Definition{
		{
			Name:           "save_settings",
			Aliases:        []string{"settings_save"},
			Classification: Authenticated,
			Required:       NewPermissions("settings.write"),
			RiskScore:      10,
		},
		{
			Name:           "delete_project",
			Classification: Privileged,
			Required:       NewPermissions("projects.write", "projects.delete"),
			RiskScore:      60,
			RequiresMFA:    true,
		},
		{
			Name:               "run_query",
			Classification:     Privileged,
			Required:           NewPermissions("db.query"),
			BlockedArgPatterns: []string{"drop table", "--"},
			RiskScore:          50,
		},
		{
			Name:           "execute_system_command",
			Classification: Blocked,
			RiskScore:      100,
		},
		{
			Name:           "ping",
			Classification: Public,
			RiskScore:      0,
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return NewValidator(registry, log.NewNop())
}

func TestValidate(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		name        string
		command     string
		args        string
		perms       Permissions
		mfaVerified bool
		wantAllowed bool
		wantReason  string
	}{
		{
			name:        "allowed with exact permission",
			command:     "save_settings",
			args:        `{"theme":"dark"}`,
			perms:       NewPermissions("settings.write"),
			wantAllowed: true,
		},
		{
			name:        "alias resolves",
			command:     "settings_save",
			perms:       NewPermissions("settings.write"),
			wantAllowed: true,
		},
		{
			name:       "unknown command",
			command:    "format_disk",
			perms:      NewPermissions("settings.write"),
			wantReason: ReasonUnknownCommand,
		},
		{
			name:       "insufficient permission",
			command:    "save_settings",
			perms:      NewPermissions("settings.read"),
			wantReason: ReasonInsufficientPermission,
		},
		{
			name:       "partial permission set insufficient",
			command:    "delete_project",
			perms:      NewPermissions("projects.write"),
			wantReason: ReasonInsufficientPermission,
		},
		{
			name:        "mfa required",
			command:     "delete_project",
			perms:       NewPermissions("projects.write", "projects.delete"),
			mfaVerified: false,
			wantReason:  ReasonMFARequired,
		},
		{
			name:        "mfa satisfied",
			command:     "delete_project",
			perms:       NewPermissions("projects.write", "projects.delete"),
			mfaVerified: true,
			wantAllowed: true,
		},
		{
			name:       "blocked argument pattern",
			command:    "run_query",
			args:       `{"q":"DROP TABLE users"}`,
			perms:      NewPermissions("db.query"),
			wantReason: ReasonBlockedArgument,
		},
		{
			name:        "clean arguments pass",
			command:     "run_query",
			args:        `{"q":"select_list_projects"}`,
			perms:       NewPermissions("db.query"),
			wantAllowed: true,
		},
		{
			name:        "public command with empty permissions",
			command:     "ping",
			perms:       NewPermissions(),
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.command, []byte(tt.args), tt.perms, tt.mfaVerified)
			if res.Allowed != tt.wantAllowed {
				t.Fatalf("Allowed = %v, want %v (reason %q)", res.Allowed, tt.wantAllowed, res.Reason)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantReason)
			}
		})
	}
}

// TestValidateBlockedDeniesAdmin verifies the core invariant: Blocked
// commands are never executable, even for a caller holding every permission
// in the registry.
func TestValidateBlockedDeniesAdmin(t *testing.T) {
	v := testValidator(t)

	allPerms := NewPermissions(
		"settings.write", "projects.write", "projects.delete",
		"db.query", "system.manage", "admin.super",
	)

	res := v.Validate("execute_system_command", nil, allPerms, true)
	if res.Allowed {
		t.Fatal("Blocked command must never be allowed")
	}
	if res.Reason != ReasonCommandBlocked {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonCommandBlocked)
	}
	if res.Classification != Blocked {
		t.Errorf("Classification = %v, want Blocked", res.Classification)
	}
}

// TestValidateRiskOnRejection verifies the resolved risk score is reported
// even when validation fails, for downstream risk-adaptive limiting.
func TestValidateRiskOnRejection(t *testing.T) {
	v := testValidator(t)

	res := v.Validate("run_query", []byte(`{"q":"x -- y"}`), NewPermissions("db.query"), false)
	if res.Allowed {
		t.Fatal("expected rejection")
	}
	if res.RiskScore != 50 {
		t.Errorf("RiskScore = %d, want 50", res.RiskScore)
	}
}

func TestMatchBlockedArgsCaseInsensitive(t *testing.T) {
	pattern, hit := matchBlockedArgs([]string{"rm -rf"}, []byte(`{"cmd":"RM -RF /"}`))
	if !hit || pattern != "rm -rf" {
		t.Errorf("matchBlockedArgs = %q, %v", pattern, hit)
	}
	if _, hit := matchBlockedArgs([]string{"rm -rf"}, []byte(`{"cmd":"ls"}`)); hit {
		t.Error("unexpected match")
	}
	if _, hit := matchBlockedArgs(nil, []byte(`anything`)); hit {
		t.Error("nil patterns must not match")
	}
}
