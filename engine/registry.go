package engine

import "github.com/fenwick-io/dnsdisco/lookup"

// queryRegistry correlates live backend query IDs to the DNS record type
// they fetch and to either the ServiceType (PTR scans) or Instance
// (TXT/SRV/A/AAAA sub-queries) they belong to, per §4.2.
//
// Invariant I3: for any live query ID, exactly one of idToServiceType and
// idToInstance is populated.
type queryRegistry struct {
	idToRecordType  map[lookup.QueryID]lookup.RecordType
	idToServiceType map[lookup.QueryID]string
	idToInstance    map[lookup.QueryID]*Instance
}

func newQueryRegistry() *queryRegistry {
	return &queryRegistry{
		idToRecordType:  make(map[lookup.QueryID]lookup.RecordType),
		idToServiceType: make(map[lookup.QueryID]string),
		idToInstance:    make(map[lookup.QueryID]*Instance),
	}
}

// registerServiceTypeQuery records a PTR scan query ID Q against
// ServiceType S, per §4.2's first paragraph.
func (r *queryRegistry) registerServiceTypeQuery(id lookup.QueryID, rtype lookup.RecordType, serviceType string) {
	r.idToRecordType[id] = rtype
	r.idToServiceType[id] = serviceType
}

// registerInstanceQuery records a sub-query ID Q against Instance I, adding
// Q to I's outstandingRequests, per §4.2's second paragraph.
func (r *queryRegistry) registerInstanceQuery(id lookup.QueryID, rtype lookup.RecordType, inst *Instance) {
	r.idToRecordType[id] = rtype
	r.idToInstance[id] = inst
	inst.addOutstanding(id)
}

// recordType returns the DNS record type registered for id.
func (r *queryRegistry) recordType(id lookup.QueryID) (lookup.RecordType, bool) {
	rtype, ok := r.idToRecordType[id]
	return rtype, ok
}

// serviceType returns the ServiceType a PTR query ID belongs to.
func (r *queryRegistry) serviceType(id lookup.QueryID) (string, bool) {
	s, ok := r.idToServiceType[id]
	return s, ok
}

// instance returns the Instance a sub-query ID belongs to.
func (r *queryRegistry) instance(id lookup.QueryID) (*Instance, bool) {
	inst, ok := r.idToInstance[id]
	return inst, ok
}

// forget removes every entry for id. It does not cancel the query with the
// backend; callers cancel first, then forget, or vice-versa depending on
// the removal path (§9's deferred-deletion note: cancellation must precede
// destruction, not necessarily registry cleanup).
func (r *queryRegistry) forget(id lookup.QueryID) {
	if inst, ok := r.idToInstance[id]; ok {
		inst.removeOutstanding(id)
	}
	delete(r.idToRecordType, id)
	delete(r.idToServiceType, id)
	delete(r.idToInstance, id)
}

// findQueryByServiceType implements §4.2's findQueryByServiceType: a linear
// scan that returns the (at most one, by I3 and the start/stop contract of
// §4.5) PTR query ID live for serviceType.
func (r *queryRegistry) findQueryByServiceType(serviceType string) (lookup.QueryID, bool) {
	for id, s := range r.idToServiceType {
		if s == serviceType {
			return id, true
		}
	}
	return 0, false
}

// reset discards every entry, per I6 (lookupReady true→false clears the
// registry).
func (r *queryRegistry) reset() {
	r.idToRecordType = make(map[lookup.QueryID]lookup.RecordType)
	r.idToServiceType = make(map[lookup.QueryID]string)
	r.idToInstance = make(map[lookup.QueryID]*Instance)
}
