// Package jwtware guards go-router routes with bearer tokens validated by a
// jwtsession.Store.
package jwtware

import (
	"slices"
	"strings"

	"github.com/goliatone/go-auth-sync/provider/jwtsession"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

const (
	TextCodeTokenMissing  = "TOKEN_MISSING"
	TextCodeSubjectDenied = "TOKEN_SUBJECT_DENIED"

	defaultTokenLookup = "header:" + router.HeaderAuthorization
	defaultAuthScheme  = "Bearer"
	defaultContextKey  = "claims"
)

var (
	// ErrTokenMissing is returned when no extractor yields a token.
	ErrTokenMissing = errors.New("missing or malformed JWT", errors.CategoryAuth).
			WithTextCode(TextCodeTokenMissing).
			WithCode(errors.CodeUnauthorized)

	// ErrSubjectDenied is returned when the token subject is not allowed.
	ErrSubjectDenied = errors.New("token subject is not allowed", errors.CategoryAuthz).
				WithTextCode(TextCodeSubjectDenied).
				WithCode(errors.CodeForbidden)
)

// TokenValidator is implemented by *jwtsession.Store.
type TokenValidator interface {
	Validate(token string) (*jwtsession.Claims, error)
}

// ValidationListener runs after a token validated and before the subject
// check. A returned error rejects the request.
type ValidationListener func(ctx router.Context, claims *jwtsession.Claims) error

type Config struct {
	Filter func(router.Context) bool
	// SuccessHandler defaults to the wrapped handler.
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	TokenValidator TokenValidator
	ContextKey     string
	// TokenLookup is a comma separated list of source:name pairs, for example
	// "header:Authorization,query:token,cookie:jwt".
	TokenLookup string
	AuthScheme  string
	// AllowedSubjects restricts the user ids that may pass. Empty allows any
	// valid token.
	AllowedSubjects     []string
	ValidationListeners []ValidationListener
}

// New builds the middleware. It panics without a TokenValidator.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(hf router.HandlerFunc) router.HandlerFunc {
		success := cfg.SuccessHandler
		if success == nil {
			success = hf
		}

		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return hf(ctx)
			}

			raw, err := ExtractRawToken(ctx, extractors)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.TokenValidator.Validate(raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := cfg.runValidationListeners(ctx, claims); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if len(cfg.AllowedSubjects) > 0 && !slices.Contains(cfg.AllowedSubjects, claims.UserID()) {
				return cfg.ErrorHandler(ctx, ErrSubjectDenied.Clone().WithMetadata(map[string]any{
					"subject": claims.UserID(),
				}))
			}

			ctx.Locals(cfg.ContextKey, claims)
			return success(ctx)
		}
	}
}

// ClaimsFromLocals returns the claims stored by the middleware under key.
// An empty key uses the default.
func ClaimsFromLocals(ctx router.Context, key string) (*jwtsession.Claims, bool) {
	if key == "" {
		key = defaultContextKey
	}
	claims, ok := ctx.Locals(key).(*jwtsession.Claims)
	return claims, ok && claims != nil
}

// ExtractRawToken returns the first token found by extractors.
func ExtractRawToken(ctx router.Context, extractors []Extractor) (string, error) {
	for _, extractor := range extractors {
		if raw, err := extractor(ctx); raw != "" && err == nil {
			return raw, nil
		}
	}
	return "", ErrTokenMissing
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenValidator == nil {
		panic("jwtware: TokenValidator is required")
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = defaultContextKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = defaultAuthScheme
	}

	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{"error": "Invalid or expired token"})
	}
	status := router.StatusUnauthorized
	if richErr.Code == errors.CodeForbidden {
		status = router.StatusForbidden
	}
	return ctx.JSON(status, map[string]string{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}

func (cfg *Config) getExtractors() []Extractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims *jwtsession.Claims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims); err != nil {
			return err
		}
	}
	return nil
}

// Extractor pulls a raw token out of a request.
type Extractor func(ctx router.Context) (string, error)

// GetExtractors parses tokenLookup. Unknown sources are ignored.
func GetExtractors(tokenLookup string, authScheme string) []Extractor {
	extractors := make([]Extractor, 0)

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(rootPart), ":")
		if !ok {
			continue
		}
		source, name = strings.TrimSpace(source), strings.TrimSpace(name)

		switch source {
		case "header":
			extractors = append(extractors, fromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, fromQuery(name))
		case "param":
			extractors = append(extractors, fromParam(name))
		case "cookie":
			extractors = append(extractors, fromCookie(name))
		}
	}

	return extractors
}

func fromHeader(header, authScheme string) Extractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(ctx router.Context) (string, error) {
		a := ctx.GetString(header, "")
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissing
	}
}

func fromQuery(param string) Extractor {
	return func(ctx router.Context) (string, error) {
		if token := ctx.Query(param, ""); token != "" {
			return token, nil
		}
		return "", ErrTokenMissing
	}
}

func fromParam(param string) Extractor {
	return func(ctx router.Context) (string, error) {
		if token := ctx.Param(param); token != "" {
			return token, nil
		}
		return "", ErrTokenMissing
	}
}

func fromCookie(name string) Extractor {
	return func(ctx router.Context) (string, error) {
		if token := ctx.Cookies(name); token != "" {
			return token, nil
		}
		return "", ErrTokenMissing
	}
}
