package models

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ValidRole reports whether role is one of the known operator roles.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// User is an operator. Its email is the actor recorded on audit entries.
type User struct {
	Base
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Name         string `json:"name"`
	Role         string `gorm:"default:'member'" json:"role"` // owner, admin, member
	IsActive     bool   `gorm:"default:true" json:"is_active"`
}

func (User) TableName() string {
	return "users"
}

// CanRemediate reports whether the user may approve, execute or schedule plans.
func (u *User) CanRemediate() bool {
	return u.Role == RoleOwner || u.Role == RoleAdmin
}
