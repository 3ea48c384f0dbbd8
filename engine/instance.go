package engine

import (
	"strings"

	"github.com/fenwick-io/dnsdisco/dnssd"
	"github.com/fenwick-io/dnsdisco/lookup"
)

// Instance is one resolved service instance, discovered under some
// ServiceType and progressing through the PTR→TXT/SRV→A|AAAA resolution
// pipeline.
//
// An Instance is owned exclusively by the InstanceTable that holds it; it
// is never shared across ServiceTypes, and never mutated outside the
// resolver's single-threaded event loop.
type Instance struct {
	// Name is the unescaped "<instance>" label of the PTR target: everything
	// before its first unescaped dot, with RFC 6763 §4.3 backslash escapes
	// removed. The target is not split at the first "._"; a target whose
	// first unescaped dot is not followed by a "_"-prefixed label yields no
	// Instance.
	Name string

	// Type is the ServiceType under which this instance was discovered.
	Type string

	// TXT is the ordered list of TXT record strings. It is empty until the
	// TXT sub-query resolves.
	TXT []string

	// HostName is the SRV record's target host. It is empty until the SRV
	// sub-query resolves.
	HostName string

	// Port is the SRV record's target port. It is zero until the SRV
	// sub-query resolves.
	Port uint16

	// HostAddress is the textual IPv4 or IPv6 address from the A/AAAA
	// record. It is empty until the A sub-query resolves.
	HostAddress string

	// outstandingRequests is the set of backend query IDs for in-flight
	// TXT/SRV/A sub-queries whose completion is required before this
	// instance is fully resolved. See [Instance.FullyResolved].
	outstandingRequests map[lookup.QueryID]struct{}

	// updated is toggled each refresh cycle; see the purge pass in
	// resolver.go.
	updated bool

	// errorCount is the number of consecutive refresh cycles in which this
	// instance failed to re-respond.
	errorCount int
}

// newInstance constructs an Instance with no in-flight sub-queries.
func newInstance(name, serviceType string) *Instance {
	return &Instance{
		Name:                name,
		Type:                serviceType,
		outstandingRequests: make(map[lookup.QueryID]struct{}),
	}
}

// FullyResolved reports whether every sub-query this instance is waiting on
// has completed. Per invariant I1, only a fully resolved Instance is
// visible to user queries.
func (i *Instance) FullyResolved() bool {
	return len(i.outstandingRequests) == 0
}

// addOutstanding registers id as a sub-query this instance is waiting on.
func (i *Instance) addOutstanding(id lookup.QueryID) {
	i.outstandingRequests[id] = struct{}{}
}

// removeOutstanding forgets id, if present.
func (i *Instance) removeOutstanding(id lookup.QueryID) {
	delete(i.outstandingRequests, id)
}

// outstandingIDs returns a snapshot of every sub-query ID this instance is
// waiting on, in no particular order.
func (i *Instance) outstandingIDs() []lookup.QueryID {
	ids := make([]lookup.QueryID, 0, len(i.outstandingRequests))
	for id := range i.outstandingRequests {
		ids = append(ids, id)
	}
	return ids
}

// instanceNameFromPTRTarget derives an instance name from a PTR record's
// target, per §3: the "<instance>" label up to (and unescaping) the first
// unescaped dot, using dnssd.ParseInstance so a literal dot or backslash
// escaped per RFC 6763 §4.3 within the instance label doesn't split it
// early. It returns false if the target has no such label boundary, or if
// the remaining tail doesn't begin with a service-type label, either of
// which marks it as malformed under DNS-SD (§4.3's tie-break rule).
func instanceNameFromPTRTarget(target string) (string, bool) {
	name, tail, err := dnssd.ParseInstance(target)
	if err != nil || tail == "" || !strings.HasPrefix(tail, "_") {
		return "", false
	}
	return name, true
}
