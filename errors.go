package cfddns

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoMatch is matched by a *MatchError when nothing had the requested name.
	ErrNoMatch = errors.New("no match")
	// ErrAmbiguous is matched by a *MatchError when more than one entity had the requested name.
	ErrAmbiguous = errors.New("ambiguous match")
	// ErrInvalidContent is returned when a record's content is not an IP address.
	ErrInvalidContent = errors.New("record content is not an IP address")
)

// ResponseInfo is a single entry of the errors or messages list of an API response.
type ResponseInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (ri ResponseInfo) String() string {
	if ri.Code == 0 {
		return ri.Message
	}
	return fmt.Sprintf("[%d] %s", ri.Code, ri.Message)
}

// StatusError is returned when the API answers with a non-2xx HTTP status.
// It takes precedence over anything the response body says.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	// Messages holds the provider's error details, if the body was a response envelope.
	Messages []ResponseInfo
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s returned %s", e.Method, e.URL, e.Status)
	if len(e.Messages) > 0 {
		msg += ": " + joinInfo(e.Messages)
	}
	return msg
}

// APIError is returned when the HTTP request succeeded but the response envelope reported failure.
type APIError struct {
	Method   string
	URL      string
	Errors   []ResponseInfo
	Messages []ResponseInfo
}

func (e *APIError) Error() string {
	details := joinInfo(append(append([]ResponseInfo{}, e.Errors...), e.Messages...))
	if details == "" {
		details = "no error details given"
	}
	return fmt.Sprintf("%s %s was unsuccessful: %s", e.Method, e.URL, details)
}

// MatchError is returned when a lookup by name did not find exactly one entity.
type MatchError struct {
	Kind  string // "zone" or "record"
	Name  string
	Scope string // zone name for record lookups
	Count int
}

func (e *MatchError) Error() string {
	where := ""
	if e.Scope != "" {
		where = " in zone " + e.Scope
	}
	if e.Count == 0 {
		return fmt.Sprintf("no matching %s found for %q%s", e.Kind, e.Name, where)
	}
	return fmt.Sprintf("%d matching %ss found for %q%s, could not select one", e.Count, e.Kind, e.Name, where)
}

func (e *MatchError) Is(target error) bool {
	switch target {
	case ErrNoMatch:
		return e.Count == 0
	case ErrAmbiguous:
		return e.Count > 1
	}
	return false
}

func joinInfo(infos []ResponseInfo) string {
	var parts []string
	for _, ri := range infos {
		if s := ri.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}
