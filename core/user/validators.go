package user

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/shule/core"
	appfs "github.com/trezcool/shule/fs"
)

var (
	allRolesTag  = "allroles"
	allRolesText = "invalid roles"

	usernameOrEmailTag  = "username_or_email"
	usernameOrEmailText = "one of username or email is required"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdComplexityTag  = "pwdcplx"
	pwdComplexityText = "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"
	specialRegex      = regexp.MustCompile("[^A-Za-z0-9]")

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"

	pwdNoCommonTag  = "pwdnocommon"
	pwdNoCommonText = "password is too common"
	commonPasswords   []string
	commonPasswordsMu sync.RWMutex
)

// InitValidators registers the user validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(allRolesTag, allRolesValidation)
	core.RegisterCustomTranslation(validate, translator, allRolesTag, allRolesText)

	validate.RegisterStructValidation(userStructValidation, NewUser{}, UpdateUser{}, ResetUserPassword{})
	core.RegisterCustomTranslation(validate, translator, usernameOrEmailTag, usernameOrEmailText)
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdComplexityTag, pwdComplexityText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
	core.RegisterCustomTranslation(validate, translator, pwdNoCommonTag, pwdNoCommonText)
}

// LoadCommonPasswords loads the embedded list of passwords rejected by the password policy.
func LoadCommonPasswords(logger core.Logger) {
	file, err := appfs.FS.Open("assets/common-passwords.txt")
	if err != nil {
		logger.Error(fmt.Sprintf("user.LoadCommonPasswords: %v", err), err)
		return
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	pwds := make([]string, 0, 128)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pwd := strings.ToLower(strings.TrimSpace(scanner.Text())); pwd != "" {
			pwds = append(pwds, pwd)
		}
	}
	if err = scanner.Err(); err != nil {
		logger.Error(fmt.Sprintf("user.LoadCommonPasswords: %v", err), err)
		return
	}
	sort.Strings(pwds)

	commonPasswordsMu.Lock()
	commonPasswords = pwds
	commonPasswordsMu.Unlock()
}

func isCommonPassword(pwd string) bool {
	commonPasswordsMu.RLock()
	defer commonPasswordsMu.RUnlock()

	lpwd := strings.ToLower(pwd)
	idx := sort.SearchStrings(commonPasswords, lpwd)
	return idx < len(commonPasswords) && commonPasswords[idx] == lpwd
}

// Custom Validators

// allRolesValidation checks that provided user roles are all in AllRoles
func allRolesValidation(fl validator.FieldLevel) bool {
	roles, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	for _, role := range roles {
		if _, known := rolePriorities[role]; !known {
			return false
		}
	}
	return true
}

// userStructValidation does struct level validation on NewUser, UpdateUser and ResetUserPassword structs.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		validateUsernameAndEmail(usr, sl)
		if usr.Password != "" {
			validatePassword(usr.Password, usr.Name, usr.Username, usr.Email, sl)
		}
	case UpdateUser:
		if usr.Password != "" {
			validatePassword(usr.Password, usr.Name, usr.Username, usr.Email, sl)
		}
	case ResetUserPassword:
		if usr.Password != "" {
			validatePassword(usr.Password, "", "", "", sl)
		}
	}
}

// validateUsernameAndEmail checks that one of Username or Email is provided
func validateUsernameAndEmail(nu NewUser, sl validator.StructLevel) {
	if len(nu.Username) == 0 && len(nu.Email) == 0 {
		sl.ReportError(nu.Username, "username", "Username", usernameOrEmailTag, "")
		sl.ReportError(nu.Email, "email", "Email", usernameOrEmailTag, "")
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - no whitespace
// - no all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no user attrs similarity
// - no common password
func validatePassword(pwd, name, uname, email string, sl validator.StructLevel) {
	reportErr := func(tag string) {
		sl.ReportError(pwd, "password", "Password", tag, "")
	}

	var (
		digitCount                             int
		hasUpper, hasLower, hasDig, hasSpecial bool
	)

	// - minLen: 8
	pwdLen := len([]rune(pwd))
	if pwdLen < pwdMinLen {
		reportErr(pwdMinLenTag)
		return
	}
	for _, char := range []rune(pwd) {
		// - no whitespace
		if unicode.IsSpace(char) {
			reportErr(pwdNoSpaceTag)
			return
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	// - not all numeric
	if digitCount == pwdLen {
		reportErr(pwdNotAllNumTag)
		return
	}

	// - complexity: 1 upper, 1 lower, 1 digit & 1 special
	hasDig = digitCount > 0
	hasSpecial = specialRegex.MatchString(pwd)
	if !(hasUpper && hasLower && hasDig && hasSpecial) {
		reportErr(pwdComplexityTag)
		return
	}

	// - no user attrs similarity
	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(pass, ""), strings.Split(usrAttr, "")).QuickRatio()
	}
	if getRatio(pwd, name) >= pwdMaxSim ||
		getRatio(pwd, uname) >= pwdMaxSim ||
		getRatio(pwd, email) >= pwdMaxSim {
		reportErr(pwdAttrSimTag)
		return
	}

	// - no common passwords
	if isCommonPassword(pwd) {
		reportErr(pwdNoCommonTag)
	}
}
