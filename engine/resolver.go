package engine

import (
	"github.com/fenwick-io/dnsdisco/dnssd"
	"github.com/fenwick-io/dnsdisco/lookup"
)

// resolver drives the DNS-SD resolution pipeline (§4.3): it starts and
// stops PTR scans per ServiceType, ingests backend answers, correlates
// them via the queryRegistry, maintains the instanceTable, and projects
// fully resolved instances onto the UserQueries that want them.
//
// Every method assumes it runs inside the engine's single-threaded event
// loop (§5): there are no locks here, and none are needed.
type resolver struct {
	backend lookup.Backend
	table   *instanceTable
	queries *queryRegistry
	queued  []*UserQuery

	primaryFilter dnssd.Filter

	// running mirrors the lifecycle controller's running flag; resolver
	// methods consult it to decide whether newly declared ServiceTypes
	// should have a PTR scan started immediately.
	running bool

	// unicastErrorThreshold is the purge pass's errorCount ceiling; see
	// unicastErrorThresholdOf.
	unicastErrorThreshold int
}

func newResolver(backend lookup.Backend) *resolver {
	return &resolver{
		backend: backend,
		table:   newInstanceTable(),
		queries: newQueryRegistry(),
	}
}

// bind wires the resolver to receive backend callbacks. Called once, before
// the backend is constructed, since the backend takes the callbacks at
// construction time.
func (r *resolver) bind() lookup.Callbacks {
	return lookup.Callbacks{
		Result: r.handleResult,
		Error:  r.handleError,
	}
}

// updateServices implements §4.5's updateServices: reconcile the set of
// required ServiceTypes against every queued UserQuery, starting PTR scans
// for newly required types (if running) and stopping/removing types no
// longer demanded, then refreshing every UserQuery's projection.
func (r *resolver) updateServices(queries []*UserQuery) {
	r.queued = queries

	// Every UserQuery, regardless of RecordType, is seeded by a PTR scan;
	// RecordTypeA only affects filtering (§3), not which record type starts
	// the pipeline.
	required := make(map[string]lookup.RecordType, len(queries))
	for _, q := range queries {
		required[q.ServiceType] = lookup.RecordTypePTR
	}

	for _, serviceType := range r.table.serviceTypes() {
		if _, ok := required[serviceType]; !ok {
			r.stopQuery(serviceType)
			r.table.removeServiceType(serviceType, r.cancelInstanceQueries)
		}
	}

	for serviceType, rtype := range required {
		if r.table.hasServiceType(serviceType) {
			continue
		}
		r.table.addServiceType(serviceType, rtype)
		if r.running {
			r.startQuery(serviceType)
		}
	}

	r.updateAllServiceTypes()
}

// startQuery starts the PTR scan for serviceType, unless one is already
// live (idempotent, per §4.3).
func (r *resolver) startQuery(serviceType string) {
	if _, ok := r.queries.findQueryByServiceType(serviceType); ok {
		return
	}

	id, err := r.backend.QueryStart(serviceType, lookup.RecordTypePTR)
	if err != nil {
		return
	}

	r.queries.registerServiceTypeQuery(id, lookup.RecordTypePTR, serviceType)
}

// stopQuery cancels the live PTR scan for serviceType, if any (idempotent).
func (r *resolver) stopQuery(serviceType string) {
	id, ok := r.queries.findQueryByServiceType(serviceType)
	if !ok {
		return
	}

	r.backend.QueryCancel(id)
	r.queries.forget(id)
}

// startAllQueries starts a PTR scan for every registered ServiceType.
// Called when the lifecycle controller transitions into running with the
// backend ready.
func (r *resolver) startAllQueries() {
	for _, serviceType := range r.table.serviceTypes() {
		r.startQuery(serviceType)
	}
}

// stopAllQueries cancels every live PTR scan, leaving the InstanceTables
// intact (unlike reset, which also empties them).
func (r *resolver) stopAllQueries() {
	for _, serviceType := range r.table.serviceTypes() {
		r.stopQuery(serviceType)
	}
}

// reset implements I6: clears the query registry and empties every
// InstanceTable, cancelling every outstanding backend query along the way.
// Called when lookupReady transitions from true to false.
func (r *resolver) reset() {
	r.stopAllQueries()
	for _, serviceType := range r.table.serviceTypes() {
		r.table.clearItems(serviceType, r.cancelInstanceQueries)
	}
	r.queries.reset()
	r.updateAllServiceTypes()
}

// cancelInstanceQueries cancels every backend query an about-to-be-removed
// Instance is waiting on, and forgets them from the registry. This must run
// before the Instance is discarded (§9's deferred-deletion note / §5's
// liveness invariant).
func (r *resolver) cancelInstanceQueries(inst *Instance) {
	for _, id := range inst.outstandingIDs() {
		r.backend.QueryCancel(id)
		r.queries.forget(id)
	}
}

// handleResult ingests a backend Result callback, implementing §4.3's
// ingestion rules.
func (r *resolver) handleResult(id lookup.QueryID, answers []lookup.Answer) {
	rtype, ok := r.queries.recordType(id)
	if !ok {
		// Late answer after cancellation (§4.3 tie-break, §7 error kind 4).
		return
	}

	switch rtype {
	case lookup.RecordTypePTR:
		r.ingestPTR(id, answers)
	case lookup.RecordTypeTXT:
		r.ingestTXT(id, answers)
	case lookup.RecordTypeSRV:
		r.ingestSRV(id, answers)
	case lookup.RecordTypeA, lookup.RecordTypeAAAA:
		r.ingestAddress(id, answers)
	}
}

// handleError implements §7's error kind 2: a backend query error is
// diagnostic only and never mutates an InstanceTable.
func (r *resolver) handleError(id lookup.QueryID, kind lookup.ErrorKind) {
}

func (r *resolver) ingestPTR(id lookup.QueryID, answers []lookup.Answer) {
	serviceType, ok := r.queries.serviceType(id)
	if !ok {
		return
	}

	for _, a := range answers {
		name, ok := instanceNameFromPTRTarget(a.Name)
		if !ok {
			// Malformed under DNS-SD; silently dropped (§4.3, §7 kind 3).
			continue
		}

		if a.TTL == 0 {
			r.removeItem(name, serviceType)
			continue
		}

		inst, created := r.table.addItem(name, serviceType)
		if inst == nil {
			continue
		}
		if !created {
			// Already known; §4.3's last tie-break: no new sub-queries are
			// started for this refresh. If it was already fully resolved,
			// this PTR answer is the instance replying during the current
			// refresh cycle, so treat it as a reconfirmation for the
			// purge pass's purposes (§9's open question on duplicate PTR
			// refreshes, and P7's errorCount reset on reply): reset its
			// errorCount and arm its updated flag exactly as a freshly
			// completed resolution would.
			if inst.FullyResolved() {
				inst.errorCount = 0
				inst.updated = true
			}
			continue
		}

		// Reconstruct the canonical sub-query target from the parsed
		// instance name and known service type, rather than re-forwarding
		// the PTR answer's raw target verbatim, so an inconsistently
		// escaped/cased reply can't steer subsequent queries.
		target := dnssd.ServiceInstanceName{Name: name, ServiceType: serviceType}.Relative()
		r.startSubQuery(inst, target, lookup.RecordTypeTXT)
		r.startSubQuery(inst, target, lookup.RecordTypeSRV)
	}
}

func (r *resolver) ingestTXT(id lookup.QueryID, answers []lookup.Answer) {
	inst, ok := r.queries.instance(id)
	if !ok {
		return
	}
	r.retireSubQuery(id)

	var txt []string
	for _, a := range answers {
		txt = append(txt, a.Texts...)
	}
	inst.TXT = txt

	r.maybeFullyResolved(inst)
}

func (r *resolver) ingestSRV(id lookup.QueryID, answers []lookup.Answer) {
	inst, ok := r.queries.instance(id)
	if !ok {
		return
	}
	r.retireSubQuery(id)

	if len(answers) > 0 {
		a := answers[len(answers)-1] // last one wins, per §4.3's tie-break
		inst.HostName = a.Name
		inst.Port = a.Port
		r.startSubQuery(inst, a.Name, lookup.RecordTypeA)
	}

	r.maybeFullyResolved(inst)
}

func (r *resolver) ingestAddress(id lookup.QueryID, answers []lookup.Answer) {
	inst, ok := r.queries.instance(id)
	if !ok {
		return
	}
	r.retireSubQuery(id)

	if len(answers) > 0 {
		a := answers[len(answers)-1] // last one wins
		inst.HostAddress = a.Address
	}

	r.maybeFullyResolved(inst)
}

// startSubQuery starts a TXT/SRV/A sub-query for inst, registering it
// against the instance per §4.2.
func (r *resolver) startSubQuery(inst *Instance, name string, rtype lookup.RecordType) {
	id, err := r.backend.QueryStart(name, rtype)
	if err != nil {
		return
	}
	r.queries.registerInstanceQuery(id, rtype, inst)
}

// retireSubQuery cancels and forgets a sub-query that has just delivered
// its (only) result, per §4.3's "cancel Q, remove all registry entries"
// instruction for TXT/SRV/A answers.
func (r *resolver) retireSubQuery(id lookup.QueryID) {
	r.backend.QueryCancel(id)
	r.queries.forget(id)
}

// maybeFullyResolved implements §4.3's post-processing: once an instance
// has no outstanding sub-queries, mark it fully resolved and recompute the
// affected ServiceType's user-visible projection.
func (r *resolver) maybeFullyResolved(inst *Instance) {
	if !inst.FullyResolved() {
		return
	}

	inst.errorCount = 0
	inst.updated = true
	r.updateServiceType(inst.Type)
}

// removeItem implements §4.4's removeItem, cascading into a projection
// refresh.
func (r *resolver) removeItem(name, serviceType string) {
	if r.table.removeItem(name, serviceType, func(id lookup.QueryID) {
		r.backend.QueryCancel(id)
		r.queries.forget(id)
	}) {
		r.updateServiceType(serviceType)
	}
}

// updateServiceType implements §4.5's updateServiceType(type): project the
// InstanceTable for type onto every UserQuery watching it.
func (r *resolver) updateServiceType(serviceType string) {
	var fullyResolved []*Instance
	for _, inst := range r.table.items(serviceType) {
		if inst.FullyResolved() {
			fullyResolved = append(fullyResolved, inst)
		}
	}

	for _, q := range r.queued {
		if q.ServiceType != serviceType {
			continue
		}
		q.replace(r.project(fullyResolved, q))
	}
}

// updateAllServiceTypes refreshes every UserQuery's projection, per the
// last step of §4.5's updateServices.
func (r *resolver) updateAllServiceTypes() {
	for _, serviceType := range r.table.serviceTypes() {
		r.updateServiceType(serviceType)
	}
}

// project implements §4.5/§4.6: filter fullyResolved against the engine's
// primary filter and q's secondary filter (bypassed entirely when q wants
// RecordTypeA), producing the snapshot list installed on q.
func (r *resolver) project(fullyResolved []*Instance, q *UserQuery) []ResolvedInstance {
	var out []ResolvedInstance

	for _, inst := range fullyResolved {
		if q.RecordType != lookup.RecordTypeA {
			okPrimary, err := r.primaryFilter.Matches(inst.Name, inst.TXT)
			if err != nil || !okPrimary {
				continue
			}

			okSecondary, err := q.SecondaryFilter.Matches(inst.Name, inst.TXT)
			if err != nil || !okSecondary {
				continue
			}
		}

		out = append(out, snapshot(inst))
	}

	return out
}

// setPrimaryFilter implements §4.7's updateFilter, re-projecting every
// UserQuery so changes are visible immediately (P5 filter idempotence).
func (r *resolver) setPrimaryFilter(f dnssd.Filter) {
	r.primaryFilter = f
	r.updateAllServiceTypes()
}

// refreshQuery implements §4.5's unicast refresh: purge the InstanceTable
// for serviceType, cancel the existing PTR scan, then start a new one.
func (r *resolver) refreshQuery(serviceType string) {
	r.purge(serviceType)
	r.stopQuery(serviceType)
	r.startQuery(serviceType)
}

// purge implements §4.5's purge pass.
func (r *resolver) purge(serviceType string) {
	removed := false

	for _, inst := range append([]*Instance(nil), r.table.items(serviceType)...) {
		if !inst.updated {
			inst.errorCount++
			if inst.errorCount > unicastErrorThresholdOf(r) {
				r.cancelInstanceQueries(inst)
				r.table.removeItem(inst.Name, serviceType, func(lookup.QueryID) {})
				removed = true
			}
		} else {
			inst.updated = false
		}
	}

	if removed {
		r.updateServiceType(serviceType)
	}
}

// unicastErrorThreshold is read from the owning engine's configuration by
// the lifecycle controller, which sets it on the resolver before any
// purge runs. It defaults to 2, per §6.
var defaultUnicastErrorThreshold = 2

func unicastErrorThresholdOf(r *resolver) int {
	if r.unicastErrorThreshold <= 0 {
		return defaultUnicastErrorThreshold
	}
	return r.unicastErrorThreshold
}
