package catalog

import "sort"

// Wildcard grants every catalogued permission. It is never a catalogued key.
const Wildcard = "*"

// Permission is an entry in the permission registry
type Permission struct {
	Key         string `json:"key" yaml:"key"`
	Description string `json:"description" yaml:"description"`
}

// Built-in permission keys used by the service's own routes
const (
	PermOrgAdmin              = "org.admin"
	PermOrgMembersManage      = "org.members.manage"
	PermProjectView           = "project.view"
	PermProjectManage         = "project.manage"
	PermProjectBudgetView     = "project.budget.view"
	PermProjectDocumentsView  = "project.documents.view"
	PermProjectDocumentsShare = "project.documents.share"
	PermProjectChangeOrders   = "project.change_orders.approve"
	PermProjectInvoicesManage = "project.invoices.manage"
	PermPortalManage          = "portal.manage"
	PermAuditRead             = "audit.read"
	PermPlatformSupport       = "platform.support"
)

// Builtins returns the permissions every deployment carries
func Builtins() []Permission {
	return []Permission{
		{Key: PermOrgAdmin, Description: "Administer an organization"},
		{Key: PermOrgMembersManage, Description: "Invite, suspend and remove organization members"},
		{Key: PermProjectView, Description: "View a project"},
		{Key: PermProjectManage, Description: "Edit project settings and schedule"},
		{Key: PermProjectBudgetView, Description: "View project budget and cost data"},
		{Key: PermProjectDocumentsView, Description: "View project documents"},
		{Key: PermProjectDocumentsShare, Description: "Create time-limited document links"},
		{Key: PermProjectChangeOrders, Description: "Approve change orders"},
		{Key: PermProjectInvoicesManage, Description: "Create and send invoices"},
		{Key: PermPortalManage, Description: "Issue, revoke and manage external portal links"},
		{Key: PermAuditRead, Description: "Query the authorization audit log"},
		{Key: PermPlatformSupport, Description: "Platform support staff access"},
	}
}

// Keys returns the sorted keys of the given permissions
func Keys(perms []Permission) []string {
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key)
	}
	sort.Strings(keys)
	return keys
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i].Key < perms[j].Key })
}
