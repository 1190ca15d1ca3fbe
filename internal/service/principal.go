package service

const (
	RoleUser    = "user"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Email  string
	Role   string
}

// IsStaff reports whether the caller may see and manage every user's orders.
func (p Principal) IsStaff() bool {
	return p.Role == RoleAdmin || p.Role == RoleManager
}
