package user

import (
	"context"
	"errors"
	"net/mail"
	"time"

	"github.com/trezcool/shule/core"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("user")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	errInvalidUID     = core.NewValidationError(nil, core.FieldError{Field: "uid", Error: "invalid value"})
	errInvalidReset   = core.NewValidationError(nil, core.FieldError{Field: "token", Error: "invalid value"})

	passwordResetTmpl = "password_reset"

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		// CheckUsernameUniqueness returns ErrUsernameExists or ErrEmailExists when taken by a user
		// other than the excluded ones.
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		UpdateOrCreateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...int64) error
	}

	Service interface {
		CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id int64) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		Update(ctx context.Context, id int64, uu UpdateUser) (User, error)
		Delete(ctx context.Context, ids ...int64) error
		// RequestPasswordReset emails a reset link to the active user owning email.
		// It returns ErrNotFound when there is none.
		RequestPasswordReset(ctx context.Context, email string) error
		// ResetPassword sets the new password once the uid and token of a reset link are verified.
		ResetPassword(ctx context.Context, rp ResetUserPassword) error
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := NowFunc().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id int64) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := NowFunc().UTC()
	usr.LastLogin = &now
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) Update(ctx context.Context, id int64, uu UpdateUser) (User, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: id})
	if err != nil {
		return User{}, err
	}

	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	usr.UpdatedAt = NowFunc().UTC()
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) Delete(ctx context.Context, ids ...int64) error {
	return svc.repo.DeleteUsersByID(ctx, ids...)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	email = core.CleanString(email, true /* lower */)
	usr, err := svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: email})
	if err != nil {
		return err
	}
	if !usr.IsActive || usr.Email != email {
		return ErrNotFound
	}

	msg := core.NewEmailMessage(
		svc.conf,
		passwordResetTmpl,
		"Password reset",
		PasswordResetData{Name: usr.Name, UID: EncodeUID(usr), Token: MakeToken(svc.conf, usr)},
		mail.Address{Name: usr.Name, Address: usr.Email},
	)
	svc.mailSvc.SendMessages(msg)
	return nil
}

func (svc *service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	id, err := decodeUID(rp.UID)
	if err != nil || id <= 0 {
		return errInvalidUID
	}
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: id})
	if err != nil {
		if core.IsNotFound(err) {
			return errInvalidUID
		}
		return err
	}
	if !usr.IsActive {
		return errInvalidUID
	}
	if err := verifyToken(svc.conf, usr, rp.Token); err != nil {
		return errInvalidReset
	}

	if err := usr.SetPassword(rp.Password); err != nil {
		return err
	}
	usr.UpdatedAt = NowFunc().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}
