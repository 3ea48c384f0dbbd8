// Package lookup defines the capability boundary between the DNS-SD
// resolution engine and the underlying DNS/mDNS packet engine.
//
// A [Backend] is the adapter described in spec §4.1 and §6: it knows how to
// start and cancel individual DNS queries and to deliver their answers
// asynchronously, but it knows nothing about service types, instances, or
// the PTR→TXT/SRV→A/AAAA resolution pipeline. That correlation logic lives
// entirely in the engine package; see [dogmatiq-dissolve]'s
// dnssd.UnicastResolver for the synchronous sibling of this asynchronous
// contract.
package lookup

import (
	"context"
	"fmt"
)

// Mode selects the transport a [Backend] uses to perform DNS queries.
type Mode int

const (
	// Multicast performs DNS-SD queries over multicast DNS (mDNS), as
	// described in RFC 6762.
	Multicast Mode = iota

	// Unicast performs DNS-SD queries using conventional unicast DNS
	// requests sent to configured name servers.
	Unicast
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case Multicast:
		return "multicast"
	case Unicast:
		return "unicast"
	default:
		return fmt.Sprintf("lookup.Mode(%d)", int(m))
	}
}

// RecordType identifies the DNS resource record type of a query or answer.
type RecordType int

const (
	// RecordTypePTR is a pointer record, used for service/instance
	// enumeration.
	RecordTypePTR RecordType = iota

	// RecordTypeTXT is a text record, carrying a service instance's
	// attributes.
	RecordTypeTXT

	// RecordTypeSRV is a service record, carrying a service instance's
	// target host and port.
	RecordTypeSRV

	// RecordTypeA is an IPv4 host address record.
	RecordTypeA

	// RecordTypeAAAA is an IPv6 host address record.
	RecordTypeAAAA
)

// String returns a human-readable name for the record type.
func (t RecordType) String() string {
	switch t {
	case RecordTypePTR:
		return "PTR"
	case RecordTypeTXT:
		return "TXT"
	case RecordTypeSRV:
		return "SRV"
	case RecordTypeA:
		return "A"
	case RecordTypeAAAA:
		return "AAAA"
	default:
		return fmt.Sprintf("lookup.RecordType(%d)", int(t))
	}
}

// ErrorKind classifies a backend query error. It is diagnostic only: per
// spec §7, the engine never mutates instance state in response to a query
// error.
type ErrorKind int

const (
	// ErrorGeneric is an unclassified query failure.
	ErrorGeneric ErrorKind = iota

	// ErrorNXDomain indicates the queried name does not exist.
	ErrorNXDomain

	// ErrorTimeout indicates no server answered within the backend's
	// timeout.
	ErrorTimeout

	// ErrorConflict indicates a name conflict was detected (multicast
	// only).
	ErrorConflict
)

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorGeneric:
		return "generic"
	case ErrorNXDomain:
		return "nxdomain"
	case ErrorTimeout:
		return "timeout"
	case ErrorConflict:
		return "conflict"
	default:
		return fmt.Sprintf("lookup.ErrorKind(%d)", int(k))
	}
}

// QueryID identifies a single outstanding query with a [Backend].
//
// IDs are only meaningful in the context of the backend that issued them;
// the engine treats them as opaque correlation tokens (spec §4.2).
type QueryID uint64

// Answer is a single resource record returned in response to a query.
type Answer struct {
	// Owner is the domain name that owns the record (the name that was
	// queried, for the record types this package deals with).
	Owner string

	// Type is the DNS record type of this answer.
	Type RecordType

	// TTL is the time-to-live of the record, in seconds. A TTL of 0
	// indicates the record is being withdrawn ("goodbye"), per RFC 6762
	// §10.1.
	TTL uint32

	// Name is the pointer target (PTR) or SRV target host. It is unused
	// for TXT and A/AAAA answers.
	Name string

	// Texts holds the TXT record's strings, in wire order. It is unused
	// for all other record types.
	Texts []string

	// Port is the SRV target port. It is unused for all other record
	// types.
	Port uint16

	// Address is the textual IPv4 or IPv6 address carried by an A or AAAA
	// answer. It is unused for all other record types.
	Address string
}

// NameServer identifies a unicast DNS server.
type NameServer struct {
	// Host is the name server's hostname or textual IP address.
	Host string

	// Port is the name server's port. A zero value means the backend
	// should use the conventional DNS port (53).
	Port uint16
}

// Callbacks delivers asynchronous events from a [Backend] to its owner.
//
// Both fields must be set before any query is started; neither is called
// concurrently with itself (a backend may call them from its own
// goroutines, but the owner is expected to serialize its own handling, as
// the engine's single-threaded event loop does).
type Callbacks struct {
	// Result delivers the answer records for a query. The unicast backend
	// calls it (or Error) at most once per query ID and then retires the
	// ID. The multicast backend and lookuptest.Fake may call it any number
	// of times for a live query ID of any record type, until the query is
	// canceled.
	Result func(id QueryID, answers []Answer)

	// Error reports a query failure. It does not retire the query ID
	// unless the backend also stops delivering results for it.
	Error func(id QueryID, kind ErrorKind)
}

// Backend is the capability the resolution engine (C5) uses to perform DNS
// queries, without any knowledge of which transport is underneath it.
//
// See spec §4.1 and §6.
type Backend interface {
	// Init prepares the backend to perform queries in the given mode,
	// optionally bound to a specific local address (the empty string means
	// "any"). Init must be called before any other method, and again after
	// Shutdown to reuse the backend.
	Init(ctx context.Context, mode Mode, bindAddress string) error

	// Shutdown releases all resources held by the backend and cancels
	// every outstanding query. After Shutdown returns, the backend may be
	// re-initialized with Init.
	Shutdown() error

	// SetNameServers replaces the set of unicast name servers the backend
	// queries. It is a no-op for backends operating in Multicast mode.
	SetNameServers(servers []NameServer) error

	// SystemNameServers returns the name servers configured for the host
	// operating system, used as a fallback when the caller has not
	// supplied any (spec §7, error kind 6).
	SystemNameServers() ([]NameServer, error)

	// QueryStart begins a query for name of the given record type,
	// returning an ID that correlates later Result/Error callbacks. The
	// query remains live until canceled with QueryCancel, or, for the
	// unicast backend, until its single Result or Error has been
	// delivered (see [Callbacks]).
	QueryStart(name string, rtype RecordType) (QueryID, error)

	// QueryCancel stops a query and releases any resources associated
	// with it. Canceling an ID that is not live, or has already been
	// canceled, is a no-op (spec §4.2).
	QueryCancel(id QueryID)
}
