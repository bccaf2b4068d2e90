package metadata

// Credential kinds accepted by the admin guard.
const (
	CredentialOpen   = "open"
	CredentialAPIKey = "api_key"
	CredentialJWT    = "jwt"
)

// UserContext represents the authenticated caller, set by the admin guard.
type UserContext struct {
	ID         string   `json:"id"`
	Roles      []string `json:"roles"`
	Credential string   `json:"credential"`
}

// HasRole checks whether the caller has a specific role.
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the caller has the admin role.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole("admin")
}
