package auth

const (
	ScopeOpenID         = "openid"
	ScopeProfile        = "profile"
	ScopeEmail          = "email"
	ScopePipelinesRead  = "pipelines:read"
	ScopePipelinesWrite = "pipelines:write"
)

// AllScopes defines the full set of scopes requested by API clients.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopePipelinesRead,
	ScopePipelinesWrite,
}
