package guard

import (
	"github.com/autodev-ai/secgate/internal/audit"
)

// Stats is a point-in-time view across the engines, derived on demand.
type Stats struct {
	Audit                    audit.Stats       `json:"audit"`
	AuditDegraded            bool              `json:"audit_degraded"`
	AuditDropped             uint64            `json:"audit_dropped"`
	ActiveSessions           int               `json:"active_sessions"`
	AverageSessionRisk       float64           `json:"average_session_risk"`
	RegisteredCommands       int               `json:"registered_commands"`
	CommandsByClassification map[string]int    `json:"commands_by_classification"`
}

// Stats aggregates audit counts, session state, and registry shape.
func (m *Manager) Stats() (Stats, error) {
	auditStats, err := m.audit.Stats()
	if err != nil {
		return Stats{}, err
	}
	byClass := make(map[string]int)
	for class, n := range m.registry.CountByClassification() {
		byClass[class.String()] = n
	}
	return Stats{
		Audit:                    auditStats,
		AuditDegraded:            m.audit.Degraded(),
		AuditDropped:             m.audit.Dropped(),
		ActiveSessions:           m.sessions.ActiveCount(),
		AverageSessionRisk:       m.sessions.AverageRisk(),
		RegisteredCommands:       m.registry.Len(),
		CommandsByClassification: byClass,
	}, nil
}
