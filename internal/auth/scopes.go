package auth

const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
	// ScopeRead allows listing and reading workflows.
	ScopeRead = "outreach:read"
	// ScopeWrite allows starting workflows.
	ScopeWrite = "outreach:write"
	// ScopeOperate allows operator actions: resuming an escalated workflow.
	ScopeOperate = "outreach:operate"
)

// AllScopes defines the full set of scopes requested during login.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeRead,
	ScopeWrite,
	ScopeOperate,
}
