package engine

import (
	"github.com/fenwick-io/dnsdisco/dnssd"
	"github.com/fenwick-io/dnsdisco/lookup"
)

// UserQuery is a user-declared interest in a ServiceType, optionally
// narrowed by a secondary [dnssd.Filter]. The engine keeps
// [UserQuery.ResolvedInstances] current as matching instances resolve,
// update, or disappear, and invokes OnChange whenever that list is
// replaced.
//
// A UserQuery is owned by the caller, not the engine: the engine only ever
// replaces ResolvedInstances and invokes OnChange; it never reads back
// caller-set fields other than ServiceType, RecordType, and
// SecondaryFilter.
type UserQuery struct {
	// ServiceType is the DNS-SD service type this query watches.
	ServiceType string

	// RecordType is the DNS record type the query ultimately wants
	// resolved. RecordTypeA selects host-name resolution, which bypasses
	// filtering entirely (§3).
	RecordType lookup.RecordType

	// SecondaryFilter narrows ResolvedInstances beyond the engine's primary
	// filter. It is ignored when RecordType is RecordTypeA.
	SecondaryFilter dnssd.Filter

	// ResolvedInstances is the current, fully resolved, filtered result
	// set. The engine replaces this slice wholesale; callers must not
	// mutate it in place.
	ResolvedInstances []ResolvedInstance

	// OnChange, if set, is invoked every time ResolvedInstances is
	// replaced, even if the new slice is equal in content to the old one
	// (the engine does not diff for the purpose of suppressing
	// notifications).
	OnChange func(*UserQuery)
}

// ResolvedInstance is the read-only snapshot of an Instance surfaced to a
// UserQuery once it is fully resolved.
type ResolvedInstance struct {
	Name        string
	ServiceType string
	HostName    string
	Port        uint16
	HostAddress string
	TXT         []string
}

func snapshot(i *Instance) ResolvedInstance {
	return ResolvedInstance{
		Name:        i.Name,
		ServiceType: i.Type,
		HostName:    i.HostName,
		Port:        i.Port,
		HostAddress: i.HostAddress,
		TXT:         append([]string(nil), i.TXT...),
	}
}

// Attributes decodes r.TXT into the structured key/value and flag view
// defined by RFC 6763 §6.4, sparing callers from hand-parsing "key=value"
// strings themselves. The raw ordered strings remain available via TXT.
func (r ResolvedInstance) Attributes() (dnssd.Attributes, error) {
	return dnssd.ParseAttributes(r.TXT)
}

// replace installs instances as q's new result set and fires OnChange.
func (q *UserQuery) replace(instances []ResolvedInstance) {
	q.ResolvedInstances = instances
	if q.OnChange != nil {
		q.OnChange(q)
	}
}
