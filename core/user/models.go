package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/shule/core"
)

// Roles
const (
	// Admin
	RoleAdmin          = "admin:"
	RoleAdminOwner     = "admin:owner"
	RoleAdminPrincipal = "admin:principal"

	// Teacher
	RoleTeacher = "teacher:"

	// Student
	RoleStudent = "student:"
)

var (
	AdminRoles   = []string{RoleAdmin, RoleAdminOwner, RoleAdminPrincipal}
	TeacherRoles = []string{RoleTeacher}
	StudentRoles = []string{RoleStudent}
	AllRoles     = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner:     30,
		RoleAdminPrincipal: 29,
		RoleAdmin:          21,

		// Teachers: 20 - 11
		RoleTeacher: 11,

		// Students: 10 - 1
		RoleStudent: 1,
	}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Principal", Value: RoleAdminPrincipal},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 5)
	all = append(all, AdminRoles...)
	all = append(all, TeacherRoles...)
	all = append(all, StudentRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           int64      `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Username     string     `json:"username" db:"username"`
	Email        string     `json:"email" db:"email"`
	IsActive     bool       `json:"isActive" db:"is_active"`
	Roles        []string   `json:"roles" db:"-"`
	PasswordHash []byte     `json:"-" db:"password_hash"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"` // UTC
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"` // UTC
	LastLogin    *time.Time `json:"lastLogin" db:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.RoleStartsWith(RoleAdmin)
}

func (u *User) IsTeacher() bool {
	return u.RoleStartsWith(RoleTeacher)
}

func (u *User) IsStudent() bool {
	return u.RoleStartsWith(RoleStudent)
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required"`
	Username        string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"passwordConfirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string   `json:"name"`
	Username        string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	IsActive        *bool    `json:"isActive"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
	Password        string   `json:"password" validate:"omitempty"`
	PasswordConfirm string   `json:"passwordConfirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc Service) error {
	if name := core.CleanString(uu.Name); name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	if uname := core.CleanString(uu.Username, true /* lower */); uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Username, uu.Email, origUsr)
}

// ResetUserPassword confirms a password reset with the uid and token of the emailed link.
type ResetUserPassword struct {
	Token           string `json:"token" validate:"required"`
	UID             string `json:"uid" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

func (rp *ResetUserPassword) Validate(validate *validator.Validate) error {
	rp.Token = core.CleanString(rp.Token)
	rp.UID = core.CleanString(rp.UID)
	return validate.Struct(rp)
}

// PasswordResetData is rendered by the password_reset email templates.
type PasswordResetData struct {
	Name  string
	UID   string
	Token string
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"isActive"`
	CreatedFrom time.Time `query:"createdFrom"`
	CreatedTo   time.Time `query:"createdTo"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter looks a single User up. Exactly one field is expected to be set.
type GetFilter struct {
	ID              int64
	UsernameOrEmail string
}
