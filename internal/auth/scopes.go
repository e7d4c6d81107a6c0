package auth

// Known OAuth scopes.
const (
	ScopeDataRead  = "fitness:read"
	ScopeDataWrite = "fitness:write"
	ScopeMigrate   = "fitness:migrate"
)
