package panel

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// InvalidCredentialsMessage is shown when a login attempt is rejected
const InvalidCredentialsMessage = "Invalid email or password"

// TokenRejectedMessage is shown when the settings service refuses the
// token issued at login
const TokenRejectedMessage = "The settings service did not accept this session"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrUnknownField       = errors.New("unknown settings field")
	ErrSessionChanged     = errors.New("session changed while request was in flight")
	// ErrUnauthorized matches settings service errors that reject the
	// session's token. The panel logs out when it sees one.
	ErrUnauthorized = errors.New("settings service rejected the session token")
)

// AuthResult is the outcome of a credential check that reached a verdict.
// Transport failures are reported as errors instead.
type AuthResult struct {
	OK      bool
	Message string
	Token   string
}

// Authenticator checks a submitted email/password pair
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (AuthResult, error)
}

// StaticAuthenticator accepts exactly one configured credential pair.
type StaticAuthenticator struct {
	Email        string
	Password     string
	PasswordHash []byte

	// Issue mints a bearer token for the settings API, if set.
	Issue func(email string) (string, error)
}

// Authenticate compares the pair against the configured admin.
// Email is matched exactly after trimming surrounding whitespace.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, email, password string) (AuthResult, error) {
	if err := ctx.Err(); err != nil {
		return AuthResult{}, err
	}

	emailOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(email)), []byte(a.Email)) == 1

	var passwordOK bool
	if len(a.PasswordHash) > 0 {
		passwordOK = bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)) == nil
	} else {
		passwordOK = a.Password != "" && subtle.ConstantTimeCompare([]byte(password), []byte(a.Password)) == 1
	}

	if !emailOK || !passwordOK {
		return AuthResult{Message: InvalidCredentialsMessage}, nil
	}

	result := AuthResult{OK: true}
	if a.Issue != nil {
		token, err := a.Issue(a.Email)
		if err != nil {
			return AuthResult{}, err
		}
		result.Token = token
	}
	return result, nil
}

// AuthFunc adapts a function to Authenticator
type AuthFunc func(ctx context.Context, email, password string) (AuthResult, error)

func (f AuthFunc) Authenticate(ctx context.Context, email, password string) (AuthResult, error) {
	return f(ctx, email, password)
}
