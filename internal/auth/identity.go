package auth

// Role is the authorization level of a user. It is always read from the
// server-side session record, never from a decoded token.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleEndUser Role = "end-user"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEndUser
}

// Identity represents a verified external identity returned by the
// identity provider. It contains facts only, no decisions.
type Identity struct {
	Subject     string // provider-scoped unique user identifier (sub)
	Email       string
	DisplayName string
	AccessToken string
}
