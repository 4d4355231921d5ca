package portal

import (
	"sort"
	"time"
)

// Type identifies the audience a portal token was issued for
type Type string

const (
	TypeClient Type = "client"
	TypeSub    Type = "sub"
	TypeBid    Type = "bid"
)

// Valid reports whether t is a known portal type
func (t Type) Valid() bool {
	switch t {
	case TypeClient, TypeSub, TypeBid:
		return true
	}
	return false
}

// Capability names one fine-grained action a portal token may perform
type Capability string

const (
	CapViewSchedule        Capability = "view_schedule"
	CapViewDocuments       Capability = "view_documents"
	CapViewPhotos          Capability = "view_photos"
	CapViewBudget          Capability = "view_budget"
	CapViewInvoices        Capability = "view_invoices"
	CapSubmitSelections    Capability = "submit_selections"
	CapApproveChangeOrders Capability = "approve_change_orders"
	CapMessage             Capability = "message"
	CapPayInvoices         Capability = "pay_invoices"
	CapUploadDocuments     Capability = "upload_documents"
	CapSubmitBid           Capability = "submit_bid"
)

// Permissions is the flag set carried by a portal token. The zero value
// allows nothing.
type Permissions struct {
	ViewSchedule        bool `json:"can_view_schedule"`
	ViewDocuments       bool `json:"can_view_documents"`
	ViewPhotos          bool `json:"can_view_photos"`
	ViewBudget          bool `json:"can_view_budget"`
	ViewInvoices        bool `json:"can_view_invoices"`
	SubmitSelections    bool `json:"can_submit_selections"`
	ApproveChangeOrders bool `json:"can_approve_change_orders"`
	Message             bool `json:"can_message"`
	PayInvoices         bool `json:"can_pay_invoices"`
	UploadDocuments     bool `json:"can_upload_documents"`
	SubmitBid           bool `json:"can_submit_bid"`
}

// DefaultPermissions returns the safe read-only flags for a portal type
func DefaultPermissions(t Type) Permissions {
	switch t {
	case TypeClient:
		return Permissions{ViewSchedule: true, ViewDocuments: true, ViewPhotos: true}
	case TypeSub:
		return Permissions{ViewSchedule: true, ViewDocuments: true}
	case TypeBid:
		return Permissions{ViewDocuments: true}
	}
	return Permissions{}
}

func (p *Permissions) flag(c Capability) *bool {
	switch c {
	case CapViewSchedule:
		return &p.ViewSchedule
	case CapViewDocuments:
		return &p.ViewDocuments
	case CapViewPhotos:
		return &p.ViewPhotos
	case CapViewBudget:
		return &p.ViewBudget
	case CapViewInvoices:
		return &p.ViewInvoices
	case CapSubmitSelections:
		return &p.SubmitSelections
	case CapApproveChangeOrders:
		return &p.ApproveChangeOrders
	case CapMessage:
		return &p.Message
	case CapPayInvoices:
		return &p.PayInvoices
	case CapUploadDocuments:
		return &p.UploadDocuments
	case CapSubmitBid:
		return &p.SubmitBid
	}
	return nil
}

// Allows reports whether c is granted. Unknown capabilities are denied.
func (p Permissions) Allows(c Capability) bool {
	f := p.flag(c)
	return f != nil && *f
}

// Capabilities lists the granted capabilities in sorted order
func (p Permissions) Capabilities() []Capability {
	out := []Capability{}
	for _, c := range AllCapabilities() {
		if p.Allows(c) {
			out = append(out, c)
		}
	}
	return out
}

// PermissionsFrom builds a flag set from capability names. Unknown names are
// returned as an error.
func PermissionsFrom(caps []Capability) (Permissions, error) {
	var p Permissions
	for _, c := range caps {
		f := p.flag(c)
		if f == nil {
			return Permissions{}, invalidInput("unknown capability %q", c)
		}
		*f = true
	}
	return p, nil
}

// AllCapabilities lists every known capability in sorted order
func AllCapabilities() []Capability {
	caps := []Capability{
		CapViewSchedule, CapViewDocuments, CapViewPhotos, CapViewBudget,
		CapViewInvoices, CapSubmitSelections, CapApproveChangeOrders,
		CapMessage, CapPayInvoices, CapUploadDocuments, CapSubmitBid,
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Token is a stored portal token. The raw bearer value is never stored.
type Token struct {
	ID             string      `json:"id"`
	TokenHash      string      `json:"-"`
	OrgID          string      `json:"org_id"`
	ProjectID      string      `json:"project_id"`
	PortalType     Type        `json:"portal_type"`
	CompanyID      string      `json:"company_id,omitempty"`
	ContactID      string      `json:"contact_id,omitempty"`
	Permissions    Permissions `json:"permissions"`
	PINRequired    bool        `json:"pin_required"`
	PINHash        []byte      `json:"-"`
	RequireAccount bool        `json:"require_account"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	RevokedAt      *time.Time  `json:"revoked_at,omitempty"`
	LastAccessedAt *time.Time  `json:"last_accessed_at,omitempty"`
	AccessCount    int64       `json:"access_count"`
	CreatedBy      string      `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
}

// AccessContext is what a validated portal token unlocks
type AccessContext struct {
	TokenID        string      `json:"token_id"`
	OrgID          string      `json:"org_id"`
	ProjectID      string      `json:"project_id"`
	PortalType     Type        `json:"portal_type"`
	CompanyID      string      `json:"company_id,omitempty"`
	ContactID      string      `json:"contact_id,omitempty"`
	Permissions    Permissions `json:"permissions"`
	PINRequired    bool        `json:"pin_required"`
	RequireAccount bool        `json:"require_account"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
}

func accessContext(t *Token) *AccessContext {
	return &AccessContext{
		TokenID:        t.ID,
		OrgID:          t.OrgID,
		ProjectID:      t.ProjectID,
		PortalType:     t.PortalType,
		CompanyID:      t.CompanyID,
		ContactID:      t.ContactID,
		Permissions:    t.Permissions,
		PINRequired:    t.PINRequired,
		RequireAccount: t.RequireAccount,
		ExpiresAt:      t.ExpiresAt,
	}
}

// Account is an external identity that can claim portal tokens
type Account struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Verified reports whether the account's email has been verified
func (a *Account) Verified() bool {
	return a.EmailVerifiedAt != nil
}

// GrantStatus is the state of an account's claim on a token
type GrantStatus string

const (
	GrantActive  GrantStatus = "active"
	GrantPaused  GrantStatus = "paused"
	GrantRevoked GrantStatus = "revoked"
)

// Valid reports whether s is a known grant status
func (s GrantStatus) Valid() bool {
	switch s {
	case GrantActive, GrantPaused, GrantRevoked:
		return true
	}
	return false
}

// Grant links a claimed account to a token
type Grant struct {
	AccountID string      `json:"account_id"`
	TokenID   string      `json:"token_id"`
	Status    GrantStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// CreateRequest describes a token to issue. A nil Permissions uses
// DefaultPermissions for the portal type.
type CreateRequest struct {
	OrgID          string       `json:"org_id"`
	ProjectID      string       `json:"project_id"`
	PortalType     Type         `json:"portal_type"`
	CompanyID      string       `json:"company_id,omitempty"`
	ContactID      string       `json:"contact_id,omitempty"`
	Permissions    *Permissions `json:"permissions,omitempty"`
	PIN            string       `json:"pin,omitempty"`
	RequireAccount bool         `json:"require_account"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	CreatedBy      string       `json:"created_by"`
}

// AccessRequest is one attempted use of a portal token
type AccessRequest struct {
	Token      string
	Capability Capability
	PINSession string
	AccountID  string
}
