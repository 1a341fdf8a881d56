package user

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/trezcool/shule/core"
)

var (
	tokenSalt = []byte("shule.core.user.token_gen")
	tsEncoder = base32.StdEncoding.WithPadding(base32.NoPadding)

	// errors
	errInvalidToken = errors.New("invalid token")
	errTokenExpired = errors.New("token expired")
)

// EncodeUID base64 encodes the ID of usr for a password reset link.
func EncodeUID(usr User) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(usr.ID, 10)))
}

func decodeUID(uid string) (int64, error) {
	idBytes, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(idBytes), 10, 64)
}

// MakeToken generates a password reset token for usr.
// The token stops being valid once the password changes, the user logs in again or
// conf.PasswordResetTimeoutDelta has passed.
func MakeToken(conf *core.Config, usr User) string {
	return makeTokenWithTimestamp(conf.SecretKey, usr, numDaysSince2001(NowFunc()))
}

// verifyToken checks that a password reset token for usr is valid.
func verifyToken(conf *core.Config, usr User, token string) error {
	parts := strings.SplitN(token, "-", 2)
	if len(parts) < 2 {
		return errInvalidToken
	}

	data, err := tsEncoder.DecodeString(parts[0])
	if err != nil {
		return errInvalidToken
	}
	ts, err := strconv.Atoi(string(data))
	if err != nil {
		return errInvalidToken
	}

	// check that token has not been tampered with
	if subtle.ConstantTimeCompare([]byte(makeTokenWithTimestamp(conf.SecretKey, usr, ts)), []byte(token)) == 0 {
		return errInvalidToken
	}

	// check that the timestamp is within limit
	if numDaysSince2001(NowFunc())-ts > int(conf.PasswordResetTimeoutDelta/(24*time.Hour)) {
		return errTokenExpired
	}
	return nil
}

func makeTokenWithTimestamp(secretKey string, usr User, ts int) string {
	return tsEncoder.EncodeToString([]byte(strconv.Itoa(ts))) + "-" + sign(secretKey, hashValue(usr, ts))
}

func numDaysSince2001(t time.Time) int {
	ref := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(t.Sub(ref).Hours() / 24))
}

func sign(secretKey string, val []byte) string {
	key := sha256.Sum256(append(append([]byte{}, tokenSalt...), secretKey...))
	h := hmac.New(sha256.New, key[:])
	_, _ = h.Write(val)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func hashValue(usr User, ts int) []byte {
	var val bytes.Buffer
	val.WriteString(strconv.FormatInt(usr.ID, 10))
	val.Write(usr.PasswordHash)
	if usr.LastLogin != nil {
		// second precision survives a database round trip
		val.WriteString(strconv.FormatInt(usr.LastLogin.Unix(), 10))
	}
	val.WriteString(strconv.Itoa(ts))
	return val.Bytes()
}
