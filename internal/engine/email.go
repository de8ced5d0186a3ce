package engine

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// Email validation failure reasons.
const (
	ReasonMalformed     = "malformed"
	ReasonBlockedDomain = "blocked_domain"
)

// EmailValidationError reports why a candidate email was rejected.
type EmailValidationError struct {
	Input  string
	Reason string
}

func (e *EmailValidationError) Error() string {
	if e.Reason == ReasonBlockedDomain {
		return "email domain is not accepted"
	}
	return "email address is malformed"
}

// EmailValidator checks candidate emails against the format and, when
// enabled, the domain block list.
type EmailValidator struct {
	checkBlocked bool
	blocked      map[string]struct{}
}

// NewEmailValidator builds a validator. Domains are matched
// case-insensitively.
func NewEmailValidator(checkBlocked bool, blockedDomains []string) *EmailValidator {
	v := &EmailValidator{checkBlocked: checkBlocked, blocked: make(map[string]struct{}, len(blockedDomains))}
	for _, d := range blockedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			v.blocked[d] = struct{}{}
		}
	}
	return v
}

// Validate returns the trimmed email or an *EmailValidationError.
func (v *EmailValidator) Validate(candidate string) (string, error) {
	email := strings.TrimSpace(candidate)
	if !emailPattern.MatchString(email) {
		return "", &EmailValidationError{Input: candidate, Reason: ReasonMalformed}
	}
	if v.checkBlocked {
		domain := strings.ToLower(email[strings.LastIndex(email, "@")+1:])
		if _, ok := v.blocked[domain]; ok {
			return "", &EmailValidationError{Input: candidate, Reason: ReasonBlockedDomain}
		}
	}
	return email, nil
}

// ProfileURLFromEmail guesses a professional network profile URL from the
// email's local part.
func ProfileURLFromEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ""
	}
	local := strings.ToLower(strings.TrimSpace(email[:at]))
	local = strings.NewReplacer(".", "-", "_", "-").Replace(local)
	if local == "" {
		return ""
	}
	return "https://www.linkedin.com/in/" + local
}
