package echoapi

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

const (
	jwtContextKey  = "userToken"
	jwtAudience    = "portal"
	contextUserKey = "user"
	contextObjKey  = "object"
)

// newJWTConfig returns the JWT auth middleware config.
func newJWTConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    jwtContextKey,
		Claims:        new(Claims),
	}
}

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Username     string   `json:"username,omitempty"`
	Email        string   `json:"email,omitempty"`
	IsStudent    bool     `json:"is_student,omitempty"` // -> STUDENT PORTAL
	IsTeacher    bool     `json:"is_teacher,omitempty"` // -> TEACHER PORTAL
	IsAdmin      bool     `json:"is_admin,omitempty"`   // -> ADMIN PORTAL
	Roles        []string `json:"roles,omitempty"`
}

func (c Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

func GetUserClaims(conf *core.Config, usr user.User, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   strconv.FormatInt(usr.ID, 10),
			Audience:  jwtAudience,
			ExpiresAt: now.Add(conf.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Username:     usr.Username,
		Email:        usr.Email,
		IsStudent:    usr.IsStudent(),
		IsTeacher:    usr.IsTeacher(),
		IsAdmin:      usr.IsAdmin(),
		Roles:        usr.Roles,
	}
	return claims
}

func authenticate(ctx context.Context, conf *core.Config, uname, pwd string, svc user.Service) (*Claims, error) {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, errAuthenticationFailed
		}
		return nil, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return nil, errAuthenticationFailed
	}
	if !usr.IsActive {
		return nil, errAccountDeactivated
	}
	usr, err = svc.SetLastLogin(ctx, usr)
	if err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}
	return GetUserClaims(conf, usr), nil
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(jwtContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextUser(ctx echo.Context, svc user.Service, clms ...Claims) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	var claims Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return user.User{}, errors.Wrap(err, "getting context claims")
		}
	}

	uid, err := claims.UserID()
	if err != nil {
		return user.User{}, errUnauthorized
	}
	usr, err := svc.GetByID(ctx.Request().Context(), uid)
	if err != nil {
		if core.IsNotFound(err) {
			// deleted since the token was issued
			return user.User{}, errUnauthorized
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

func contextHasAnyRole(ctx echo.Context, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	if claims, err := getContextClaims(ctx); err == nil {
		sort.Strings(claims.Roles)
		for _, role := range roles {
			if i := sort.SearchStrings(claims.Roles, role); i < len(claims.Roles) {
				if match := claims.Roles[i]; role == match {
					return true
				}
			}
		}
	}
	return false
}

func refreshToken(ctx echo.Context, conf *core.Config, svc user.Service) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	usr, err := getContextUser(ctx, svc, claims)
	if err != nil {
		return "", errors.Wrap(err, "getting context user")
	}

	// check if user is still active
	if !usr.IsActive {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(conf.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	newClaims := GetUserClaims(conf, usr, claims.OrigIssuedAt)
	token, err := GenerateToken(conf, newClaims)
	return token, errors.Wrap(err, "generating token")
}
