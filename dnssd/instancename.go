package dnssd

import (
	"errors"
	"strings"
)

// ServiceInstanceName encapsulates a DNS-SD service instance name as the
// resolver knows it: the instance's unqualified name plus the ServiceType
// string it was discovered under. This module folds the "<domain>" portion
// of RFC 6763's three-part name into ServiceType itself (e.g.
// "_http._tcp.local."), so unlike the full RFC grammar there is no separate
// Domain field; see [ServiceInstanceName.Relative].
type ServiceInstanceName struct {
	// Name is the service instance's unqualified name.
	//
	// For example, "Boardroom Printer".
	//
	// This is the "<instance>" portion of the "service instance name", as
	// described in https://www.rfc-editor.org/rfc/rfc6763#section-4.1.
	Name string

	// ServiceType is the type of service that the instance provides,
	// including the domain it is published under (e.g. "_http._tcp.local.").
	//
	// This is the "<service>.<domain>" portion of the "service instance
	// name", as described in https://www.rfc-editor.org/rfc/rfc6763#section-4.1.
	ServiceType string
}

// Equal returns true if n and name are equal.
func (n ServiceInstanceName) Equal(name ServiceInstanceName) bool {
	return n.Name == name.Name &&
		n.ServiceType == name.ServiceType
}

// Relative returns the DNS domain name that is queried to lookup records
// about a single service instance. engine/resolver.go uses this to
// reconstruct a canonical sub-query target from a PTR answer's parsed
// instance name, rather than re-forwarding the answer's raw target
// verbatim (§4.3).
func (n ServiceInstanceName) Relative() string {
	return RelativeServiceInstanceName(n.Name, n.ServiceType)
}

// RelativeServiceInstanceName returns the DNS domain name that is queried to
// lookup records about a single service instance relative to the domain in
// which the records are published.
//
// See https://www.rfc-editor.org/rfc/rfc6763#section-4.1.
func RelativeServiceInstanceName(instance, serviceType string) string {
	return EscapeInstance(instance) + "." + serviceType
}

// needsEscape is a string containing runes that must be escaped when they
// appear in an instance name.
const needsEscape = `. '@;()"\`

// EscapeInstance escapes a service instance name for use within DNS
// records.
//
// See https://www.rfc-editor.org/rfc/rfc6763#section-4.3.
func EscapeInstance(instance string) string {
	// https://www.rfc-editor.org/rfc/rfc6763#section-4.3
	//
	// This document RECOMMENDS that if concatenating the three portions of
	// a Service Instance Name, any dots in the <Instance> portion be
	// escaped following the customary DNS convention for text files: by
	// preceding literal dots with a backslash (so "." becomes "\.").
	// Likewise, any backslashes in the <Instance> portion should also be
	// escaped by preceding them with a backslash (so "\" becomes "\\").

	var w strings.Builder

	for _, r := range instance {
		if strings.ContainsRune(needsEscape, r) {
			w.WriteRune('\\')
		}

		w.WriteRune(r)
	}

	return w.String()
}

// ParseInstance parses the "<instance>" portion of a service instance name.
//
// The given name must be either an escaped "<instance>" portion of a
// fully-qualified "service instance name", or the fully-qualified "service
// instance name" itself. Parsing stops at the first unescaped dot.
//
// instance is the parsed and unescaped instance name. tail is the remaining
// unparsed portion of n, not including the separating dot.
//
// tail is empty if name is just the "<instance>" portion (that is, it does not
// contain any unescaped dots).
func ParseInstance(name string) (instance, tail string, err error) {
	// https://www.rfc-editor.org/rfc/rfc6763#section-4.3
	//
	// This document RECOMMENDS that if concatenating the three portions of
	// a Service Instance Name, any dots in the <Instance> portion be
	// escaped following the customary DNS convention for text files: by
	// preceding literal dots with a backslash (so "." becomes "\.").
	// Likewise, any backslashes in the <Instance> portion should also be
	// escaped by preceding them with a backslash (so "\" becomes "\\").
	var w strings.Builder
	escaped := false

	for i, r := range name {
		if escaped {
			escaped = false
		} else if r == '\\' {
			escaped = true
			continue
		} else if r == '.' {
			tail = name[i+1:] // we know '.' is a single byte
			break
		}

		w.WriteRune(r)
	}

	if escaped {
		return "", "", errors.New("name is terminated with an escape character")
	}

	return w.String(), tail, nil
}
