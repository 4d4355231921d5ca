package audit

import (
	"time"

	"github.com/platinummonkey/gatehouse/pkg/ids"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// Record is one persisted authorization decision
type Record struct {
	ID              string    `json:"id"`
	OccurredAt      time.Time `json:"occurred_at"`
	ActorID         string    `json:"actor_id"`
	OrgID           string    `json:"org_id,omitempty"`
	ProjectID       string    `json:"project_id,omitempty"`
	Permission      string    `json:"permission"`
	ResourceType    string    `json:"resource_type,omitempty"`
	ResourceID      string    `json:"resource_id,omitempty"`
	Allowed         bool      `json:"allowed"`
	Reason          string    `json:"reason"`
	PolicyVersion   string    `json:"policy_version"`
	ScopesEvaluated []string  `json:"scopes_evaluated"`
	Permissions     []string  `json:"permissions"`
	RequestID       string    `json:"request_id,omitempty"`
}

// FromDecision builds a record for a finished decision
func FromDecision(d rbac.Decision, req rbac.Request) *Record {
	return &Record{
		ID:              ids.NewAt(d.DecidedAt),
		OccurredAt:      d.DecidedAt,
		ActorID:         d.ActorID,
		OrgID:           d.OrgID,
		ProjectID:       d.ProjectID,
		Permission:      d.Permission,
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		Allowed:         d.Allowed,
		Reason:          string(d.Reason),
		PolicyVersion:   d.PolicyVersion,
		ScopesEvaluated: append([]string{}, d.ScopesEvaluated...),
		Permissions:     append([]string{}, d.Permissions...),
		RequestID:       req.RequestID,
	}
}

// Filter narrows an audit search
type Filter struct {
	Start      *time.Time
	End        *time.Time
	ActorID    string
	OrgID      string
	ProjectID  string
	Permission string
	Reason     string
	Allowed    *bool

	Limit  int
	Offset int
}

const (
	// DefaultLimit is used when a filter has no limit
	DefaultLimit = 100
	// MaxLimit caps a single page
	MaxLimit = 1000
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}
