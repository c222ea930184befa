// Package errors defines the closed set of error variants the jml library
// can surface across any public API boundary. Every error that leaves a
// package must be one of these, so a caller can handle the whole library
// with a single type switch on Error.Code.
package errors

import "fmt"

// Code identifies which variant of the taxonomy an Error represents.
type Code string

const (
	CodeAuthentication Code = "authentication_error"
	CodeNetwork        Code = "network_error"
	CodeConfiguration  Code = "configuration_error"
	CodeCache          Code = "cache_error"
	CodeRateLimit      Code = "rate_limit_error"
	CodeNotFound       Code = "not_found_error"
	CodeJiraServer     Code = "jira_server_error"
	CodeValidation     Code = "validation_error"
	CodeAmbiguity      Code = "ambiguity_error"
	CodeInputParse     Code = "input_parse_error"
	CodeFileNotFound   Code = "file_not_found_error"
)

// Error is the common supertype every taxonomy variant embeds. Callers
// that only need "is this a jml error" can type-assert to *Error; callers
// that need the specific variant switch on Code.
type Error struct {
	Code             Code
	Message          string
	Details          any
	UpstreamResponse []byte
	Err              error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jml: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("jml: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// AuthenticationError: credential rejected by JIRA (HTTP 401/403).
func AuthenticationError(message string, upstream []byte) *Error {
	e := newError(CodeAuthentication, message, nil)
	e.UpstreamResponse = upstream
	return e
}

// NetworkError: transport failure, timeout, or exhausted retries.
func NetworkError(message string, err error) *Error {
	return newError(CodeNetwork, message, err)
}

// ConfigurationError: a required config field is missing or invalid.
func ConfigurationError(message string) *Error {
	return newError(CodeConfiguration, message, nil)
}

// CacheErrorVariant: the cache backing store is unavailable. Per the
// propagation policy this is logged and degraded to a miss/no-op almost
// everywhere; it is exported mainly so the cache store's Ping has
// something typed to return.
func CacheErrorVariant(message string, err error) *Error {
	return newError(CodeCache, message, err)
}

// RateLimitErr: HTTP 429 after retries were exhausted.
func RateLimitErr(message string, upstream []byte) *Error {
	e := newError(CodeRateLimit, message, nil)
	e.UpstreamResponse = upstream
	return e
}

// NotFound: HTTP 404, or "no such project/issue-type/field".
func NotFound(message string, details any) *Error {
	e := newError(CodeNotFound, message, nil)
	e.Details = details
	return e
}

// JiraServer: HTTP >=500 or an unrecognized non-OK status.
func JiraServer(message string, upstream []byte) *Error {
	e := newError(CodeJiraServer, message, nil)
	e.UpstreamResponse = upstream
	return e
}

// FieldErrors is the per-field message map JIRA returns on HTTP 400.
type FieldErrors map[string]string

// Validation: HTTP 400, or a converter/resolver rejecting a value.
func Validation(message string, fields FieldErrors) *Error {
	e := newError(CodeValidation, message, nil)
	e.Details = fields
	return e
}

// Candidate is one ambiguous match surfaced by a converter.
type Candidate struct {
	ID   string
	Name string
}

// AmbiguityDetails is the structured payload of an AmbiguityError.
type AmbiguityDetails struct {
	Field      string
	Input      string
	Candidates []Candidate
}

// Ambiguity: a friendly name/value matched more than one candidate
// equally well.
func Ambiguity(field, input string, candidates []Candidate) *Error {
	e := newError(CodeAmbiguity, fmt.Sprintf("%q for field %q is ambiguous", input, field), nil)
	e.Details = AmbiguityDetails{Field: field, Input: input, Candidates: candidates}
	return e
}

// InputParse: the parser collaborator could not make sense of the bytes.
func InputParse(message string, err error) *Error {
	return newError(CodeInputParse, message, err)
}

// FileNotFound: the caller's input file path does not exist.
func FileNotFound(path string) *Error {
	e := newError(CodeFileNotFound, fmt.Sprintf("file not found: %s", path), nil)
	e.Details = path
	return e
}

// Is reports whether err is a jml *Error of the given code, unwrapping
// through any wrapping errors.
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool { return Is(err, CodeAuthentication) }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return Is(err, CodeValidation) }

// IsAmbiguity reports whether err is an AmbiguityError.
func IsAmbiguity(err error) bool { return Is(err, CodeAmbiguity) }

// IsRateLimit reports whether err is a RateLimitError.
func IsRateLimit(err error) bool { return Is(err, CodeRateLimit) }
