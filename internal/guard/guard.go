package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/autodev-ai/secgate/internal/audit"
	"github.com/autodev-ai/secgate/internal/command"
	"github.com/autodev-ai/secgate/internal/log"
	"github.com/autodev-ai/secgate/internal/ratelimit"
	"github.com/autodev-ai/secgate/internal/sanitize"
	"github.com/autodev-ai/secgate/internal/session"
)

// Reason codes for denials originating outside the command validator.
// Command denials reuse the command package's codes.
const (
	// ReasonSessionInvalid covers every session failure. The specific
	// check that tripped stays in the audit trail, not the response.
	ReasonSessionInvalid = "session_invalid"
	// ReasonRateLimited reports an exhausted ceiling.
	ReasonRateLimited = "rate_limited"
	// ReasonAuditUnavailable reports the fail-closed state entered when
	// the audit trail cannot record events.
	ReasonAuditUnavailable = "audit_unavailable"
)

// ClientMetadata carries the transport-level attributes of the caller.
type ClientMetadata struct {
	Address           string
	DeviceFingerprint string
}

// Request is one command invocation to validate.
type Request struct {
	// SessionToken is the credential returned by CreateSession.
	SessionToken string
	// Command is the command name being invoked.
	Command string
	// Args is the raw JSON argument payload.
	Args json.RawMessage
	// Client describes where the request came from.
	Client ClientMetadata
}

// Decision is the pipeline verdict. Reason is empty exactly when Allowed.
type Decision struct {
	Allowed        bool
	Reason         string
	Classification command.Classification
	Risk           int
	// RetryAfter is set on rate-limit denials.
	RetryAfter string
}

// Config wires a Manager from its engines. Sanitizer, Sessions, Limiter,
// Registry, and Audit are required; Roles maps role names to flattened
// permission sets.
type Config struct {
	Sanitizer *sanitize.Sanitizer
	Sessions  *session.Manager
	Limiter   *ratelimit.Limiter
	Registry  *command.Registry
	Roles     map[string]command.Permissions
	Audit     *audit.Logger
	Logger    log.Logger
}

// Manager is the pipeline orchestrator.
type Manager struct {
	sanitizer *sanitize.Sanitizer
	sessions  *session.Manager
	limiter   *ratelimit.Limiter
	registry  *command.Registry
	validator *command.Validator
	roles     map[string]command.Permissions
	audit     *audit.Logger
	logger    log.Logger
	tracer    trace.Tracer
}

// NewManager validates the wiring and builds the orchestrator.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Sanitizer == nil || cfg.Sessions == nil || cfg.Limiter == nil ||
		cfg.Registry == nil || cfg.Audit == nil {
		return nil, errors.New("guard: sanitizer, sessions, limiter, registry, and audit are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		sanitizer: cfg.Sanitizer,
		sessions:  cfg.Sessions,
		limiter:   cfg.Limiter,
		registry:  cfg.Registry,
		validator: command.NewValidator(cfg.Registry, logger),
		roles:     cfg.Roles,
		audit:     cfg.Audit,
		logger:    logger,
		tracer:    otel.Tracer("secgate/guard"),
	}, nil
}

// ValidateRequest runs the full pipeline. Stages run in a fixed order and
// the first failure wins; exactly one audit event is recorded whatever
// the path, including when the caller's context has already been
// cancelled.
func (m *Manager) ValidateRequest(ctx context.Context, req Request) Decision {
	ctx, span := m.tracer.Start(ctx, "guard.ValidateRequest",
		trace.WithAttributes(attribute.String("command", req.Command)))
	defer span.End()

	if m.audit.Degraded() {
		m.record(audit.Event{
			Type:     audit.TypeAuditDegraded,
			Severity: audit.SeverityCritical,
			Outcome:  audit.OutcomeRejected,
			Command:  req.Command,
			Reason:   ReasonAuditUnavailable,
		})
		return m.deny(span, Decision{Reason: ReasonAuditUnavailable})
	}

	// Stage 1: input sanitization.
	if res := m.sanitizeStage(ctx, req); !res.Valid {
		m.record(audit.Event{
			Type:     audit.TypeInputRejected,
			Severity: audit.SeverityWarning,
			Outcome:  audit.OutcomeRejected,
			Command:  req.Command,
			Reason:   res.Code,
			Details:  map[string]string{"detail": res.Reason},
		})
		return m.deny(span, Decision{Reason: res.Code})
	}

	// Stage 2: session validation.
	snap, err := m.sessionStage(ctx, req)
	if err != nil {
		m.record(audit.Event{
			Type:     audit.TypeSessionRejected,
			Severity: audit.SeverityWarning,
			Outcome:  audit.OutcomeRejected,
			Command:  req.Command,
			Reason:   ReasonSessionInvalid,
			Details:  map[string]string{"detail": err.Error()},
		})
		return m.deny(span, Decision{Reason: ReasonSessionInvalid})
	}

	// Stage 3: rate limiting, risk-adjusted.
	if dec := m.limitStage(ctx, req, snap); !dec.Allowed {
		m.record(audit.Event{
			Type:     audit.TypeRateLimited,
			Severity: audit.SeverityNotice,
			Outcome:  audit.OutcomeRateLimited,
			UserID:   snap.UserID,
			Session:  snap.ID,
			Command:  req.Command,
			Reason:   ReasonRateLimited,
			Risk:     snap.Risk,
		})
		return m.deny(span, Decision{
			Reason:     ReasonRateLimited,
			Risk:       snap.Risk,
			RetryAfter: dec.RetryAfter.String(),
		})
	}

	// Stage 4: command authorization.
	res := m.commandStage(ctx, req, snap)
	if !res.Allowed {
		severity := audit.SeverityWarning
		if res.Classification >= command.Administrative {
			severity = audit.SeverityCritical
		}
		m.record(audit.Event{
			Type:     audit.TypeCommandDenied,
			Severity: severity,
			Outcome:  audit.OutcomeBlocked,
			UserID:   snap.UserID,
			Session:  snap.ID,
			Command:  req.Command,
			Reason:   res.Reason,
			Risk:     res.RiskScore,
		})
		return m.deny(span, Decision{
			Reason:         res.Reason,
			Classification: res.Classification,
			Risk:           res.RiskScore,
		})
	}

	// An allow that cannot be audited is not an allow.
	if !m.record(audit.Event{
		Type:     audit.TypeRequestValidated,
		Severity: audit.SeverityInfo,
		Outcome:  audit.OutcomeSuccess,
		UserID:   snap.UserID,
		Session:  snap.ID,
		Command:  req.Command,
		Risk:     snap.Risk,
	}) {
		return m.deny(span, Decision{Reason: ReasonAuditUnavailable})
	}
	span.SetAttributes(attribute.Bool("allowed", true))
	return Decision{
		Allowed:        true,
		Classification: res.Classification,
		Risk:           snap.Risk,
	}
}

// ValidateCommandOnly is the legacy entry point: no session, no rate
// limit, just the command whitelist. Unknown and blocked commands are
// denied; everything else passes. It still audits.
func (m *Manager) ValidateCommandOnly(ctx context.Context, userID, name string) Decision {
	_, span := m.tracer.Start(ctx, "guard.ValidateCommandOnly",
		trace.WithAttributes(attribute.String("command", name)))
	defer span.End()

	if res := m.sanitizer.ValidateCommandName(name); !res.Valid {
		m.record(audit.Event{
			Type:     audit.TypeInputRejected,
			Severity: audit.SeverityWarning,
			Outcome:  audit.OutcomeRejected,
			UserID:   userID,
			Command:  name,
			Reason:   res.Code,
		})
		return m.deny(span, Decision{Reason: res.Code})
	}

	def, ok := m.registry.Resolve(name)
	if !ok {
		m.record(audit.Event{
			Type:     audit.TypeCommandDenied,
			Severity: audit.SeverityWarning,
			Outcome:  audit.OutcomeBlocked,
			UserID:   userID,
			Command:  name,
			Reason:   command.ReasonUnknownCommand,
		})
		return m.deny(span, Decision{Reason: command.ReasonUnknownCommand})
	}
	if def.Classification == command.Blocked {
		m.record(audit.Event{
			Type:     audit.TypeCommandDenied,
			Severity: audit.SeverityCritical,
			Outcome:  audit.OutcomeBlocked,
			UserID:   userID,
			Command:  name,
			Reason:   command.ReasonCommandBlocked,
			Risk:     def.RiskScore,
		})
		return m.deny(span, Decision{
			Reason:         command.ReasonCommandBlocked,
			Classification: def.Classification,
			Risk:           def.RiskScore,
		})
	}

	if !m.record(audit.Event{
		Type:     audit.TypeRequestValidated,
		Severity: audit.SeverityInfo,
		Outcome:  audit.OutcomeSuccess,
		UserID:   userID,
		Command:  name,
		Risk:     def.RiskScore,
	}) {
		return m.deny(span, Decision{Reason: ReasonAuditUnavailable})
	}
	span.SetAttributes(attribute.Bool("allowed", true))
	return Decision{Allowed: true, Classification: def.Classification, Risk: def.RiskScore}
}

// CreateSession issues a session through the pipeline's session engine
// and audits the issuance.
func (m *Manager) CreateSession(ctx context.Context, userID, role string, client ClientMetadata) (string, error) {
	if _, ok := m.roles[role]; !ok && role != "" {
		return "", fmt.Errorf("%w: %q", command.ErrUnknownRole, role)
	}
	token, err := m.sessions.Create(ctx, userID, role, client.DeviceFingerprint, client.Address)
	if err != nil {
		return "", err
	}
	m.record(audit.Event{
		Type:     audit.TypeSessionCreated,
		Severity: audit.SeverityInfo,
		Outcome:  audit.OutcomeSuccess,
		UserID:   userID,
		Details:  map[string]string{"role": role},
	})
	return token, nil
}

// RevokeSession revokes a session and audits the revocation.
func (m *Manager) RevokeSession(ctx context.Context, token, userID string) {
	m.sessions.Revoke(ctx, token)
	m.record(audit.Event{
		Type:     audit.TypeSessionRevoked,
		Severity: audit.SeverityNotice,
		Outcome:  audit.OutcomeSuccess,
		UserID:   userID,
	})
}

func (m *Manager) sanitizeStage(ctx context.Context, req Request) sanitize.Result {
	_, span := m.tracer.Start(ctx, "guard.sanitize")
	defer span.End()
	return m.sanitizer.ValidateIPCInput(req.Command, req.Args)
}

func (m *Manager) sessionStage(ctx context.Context, req Request) (session.Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "guard.session")
	defer span.End()
	return m.sessions.Validate(ctx, req.SessionToken, session.Observed{
		Address:     req.Client.Address,
		Fingerprint: req.Client.DeviceFingerprint,
	})
}

func (m *Manager) limitStage(ctx context.Context, req Request, snap session.Snapshot) ratelimit.Decision {
	_, span := m.tracer.Start(ctx, "guard.ratelimit")
	defer span.End()
	return m.limiter.Check(snap.UserID, req.Command, snap.Risk)
}

func (m *Manager) commandStage(ctx context.Context, req Request, snap session.Snapshot) command.Result {
	_, span := m.tracer.Start(ctx, "guard.command")
	defer span.End()
	perms := m.roles[snap.Role]
	return m.validator.Validate(req.Command, req.Args, perms, snap.AuthState == session.TwoFactor)
}

func (m *Manager) record(ev audit.Event) bool {
	return m.audit.Record(ev)
}

func (m *Manager) deny(span trace.Span, d Decision) Decision {
	span.SetAttributes(
		attribute.Bool("allowed", false),
		attribute.String("reason", d.Reason))
	m.logger.Warn("request denied",
		"security_event", "request_denied",
		"reason", d.Reason)
	return d
}
