package dnssd

import (
	"fmt"
	"strings"
)

// ValidateServiceType returns an error if s is not a syntactically valid
// DNS-SD service type string, as accepted by an [engine.Engine]'s user
// queries.
//
// A service type string is opaque to the resolution engine (it is used
// verbatim as the name of the PTR scan), but it is always of the form
// "_service._tcp.<domain>" or "_service._udp.<domain>", optionally prefixed
// with a sub-type label ("_subtype._sub._service._tcp.<domain>"). Rejecting
// malformed service types before they are handed to a lookup backend avoids
// starting a PTR scan that can never produce a useful answer.
//
// See https://www.rfc-editor.org/rfc/rfc6763#section-4.1.2 and
// https://www.rfc-editor.org/rfc/rfc6763#section-7.1.
func ValidateServiceType(s string) error {
	labels := strings.Split(s, ".")

	protoIndex := -1
	for i, l := range labels {
		if l == "_tcp" || l == "_udp" {
			protoIndex = i
			break
		}
	}

	if protoIndex < 1 {
		return fmt.Errorf("dnssd: %q is not a valid service type: missing \"_tcp\" or \"_udp\" label", s)
	}

	if protoIndex == len(labels)-1 {
		return fmt.Errorf("dnssd: %q is not a valid service type: missing domain", s)
	}

	service := labels[protoIndex-1]
	if !strings.HasPrefix(service, "_") || len(service) < 2 {
		return fmt.Errorf("dnssd: %q is not a valid service type: service label must begin with an underscore", s)
	}

	if protoIndex >= 2 && labels[protoIndex-2] == "_sub" {
		if protoIndex < 3 || !strings.HasPrefix(labels[protoIndex-3], "_") {
			return fmt.Errorf("dnssd: %q is not a valid service type: sub-type label must begin with an underscore", s)
		}
	}

	return nil
}
