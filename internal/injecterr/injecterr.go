// Package injecterr describes sidebar injection failures and decides which
// of them are worth surfacing.
package injecterr

import (
	"context"
	"errors"
	"strings"
)

// Kind identifies a known injection failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindLocalFile
	KindNoFileAccess
	KindRestrictedProtocol
	KindBlockedSite
	KindAlreadyInjected
	KindTabGone
	KindRequestCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindLocalFile:          "local-file",
	KindNoFileAccess:       "no-file-access",
	KindRestrictedProtocol: "restricted-protocol",
	KindBlockedSite:        "blocked-site",
	KindAlreadyInjected:    "already-injected",
	KindTabGone:            "tab-gone",
	KindRequestCanceled:    "request-canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a wire name back to a Kind. Unknown names map to KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// Error is an injection failure reported by the browser.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// New returns an *Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUnknown
}

// Class is the handling policy for an injection failure.
type Class int

const (
	// Reportable failures put the tab into the errored state and are sent
	// to diagnostics.
	Reportable Class = iota
	// Ignorable failures are absorbed without a state change.
	Ignorable
)

func (c Class) String() string {
	if c == Ignorable {
		return "ignorable"
	}
	return "reportable"
}

// Messages the browser returns when a tab went away or cannot be scripted.
var ignoredMessages = []string{
	"The tab was closed",
	"No tab with id",
	"Cannot access contents of url",
	"Cannot access a chrome:// URL",
	"Frame with ID 0 was removed",
	"The extensions gallery cannot be scripted",
}

// Classify decides how an injection failure is handled.
func Classify(err error) Class {
	if err == nil {
		return Ignorable
	}
	if errors.Is(err, context.Canceled) {
		return Ignorable
	}
	switch KindOf(err) {
	case KindRestrictedProtocol, KindAlreadyInjected, KindTabGone, KindRequestCanceled:
		return Ignorable
	}
	msg := err.Error()
	for _, m := range ignoredMessages {
		if strings.Contains(msg, m) {
			return Ignorable
		}
	}
	return Reportable
}
