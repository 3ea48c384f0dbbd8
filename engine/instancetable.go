package engine

import "github.com/fenwick-io/dnsdisco/lookup"

// instanceTable maps ServiceType to its ordered Instances and tracks the
// declared DNS record type for every known ServiceType, combining the
// InstanceTable and TypeTable described in §3.
//
// Insertion order within a ServiceType's instance list is not observable
// (§3), so it is kept as a plain slice and never re-sorted.
type instanceTable struct {
	recordTypes map[string]lookup.RecordType
	instances   map[string][]*Instance
}

func newInstanceTable() *instanceTable {
	return &instanceTable{
		recordTypes: make(map[string]lookup.RecordType),
		instances:   make(map[string][]*Instance),
	}
}

// addServiceType registers serviceType with the given primary record type.
// It is idempotent: a serviceType already present is left untouched.
func (t *instanceTable) addServiceType(serviceType string, rtype lookup.RecordType) {
	if _, ok := t.recordTypes[serviceType]; ok {
		return
	}
	t.recordTypes[serviceType] = rtype
	t.instances[serviceType] = nil
}

// removeServiceType forgets serviceType, cascading through clearItems so
// every Instance under it is properly torn down first.
func (t *instanceTable) removeServiceType(serviceType string, onRemove func(*Instance)) {
	t.clearItems(serviceType, onRemove)
	delete(t.recordTypes, serviceType)
	delete(t.instances, serviceType)
}

// removeAllServiceTypes forgets every ServiceType, cascading through
// clearItems for each.
func (t *instanceTable) removeAllServiceTypes(onRemove func(*Instance)) {
	for serviceType := range t.recordTypes {
		t.removeServiceType(serviceType, onRemove)
	}
}

// serviceTypes returns every currently registered ServiceType, in no
// particular order.
func (t *instanceTable) serviceTypes() []string {
	types := make([]string, 0, len(t.recordTypes))
	for s := range t.recordTypes {
		types = append(types, s)
	}
	return types
}

// hasServiceType reports whether serviceType is registered.
func (t *instanceTable) hasServiceType(serviceType string) bool {
	_, ok := t.recordTypes[serviceType]
	return ok
}

// recordType returns the declared record type for serviceType.
func (t *instanceTable) recordType(serviceType string) (lookup.RecordType, bool) {
	rtype, ok := t.recordTypes[serviceType]
	return rtype, ok
}

// addItem implements §4.4's addItem: if serviceType is unknown, returns
// (nil, false). Otherwise returns the existing Instance with that name, or
// constructs and appends a new one.
func (t *instanceTable) addItem(name, serviceType string) (*Instance, bool) {
	if _, ok := t.recordTypes[serviceType]; !ok {
		return nil, false
	}

	if inst, ok := t.getItem(name, serviceType); ok {
		return inst, false
	}

	inst := newInstance(name, serviceType)
	t.instances[serviceType] = append(t.instances[serviceType], inst)
	return inst, true
}

// getItem implements §4.4's getItem.
func (t *instanceTable) getItem(name, serviceType string) (*Instance, bool) {
	for _, inst := range t.instances[serviceType] {
		if inst.Name == name {
			return inst, true
		}
	}
	return nil, false
}

// removeItem implements §4.4's removeItem. onCancel is invoked for every
// outstanding query ID the removed instance was waiting on, so the caller
// can cancel it with the lookup backend and purge the query registry
// before the Instance is discarded (§9's deferred-deletion note).
func (t *instanceTable) removeItem(name, serviceType string, onCancel func(lookup.QueryID)) bool {
	list := t.instances[serviceType]
	for idx, inst := range list {
		if inst.Name != name {
			continue
		}

		for _, id := range inst.outstandingIDs() {
			onCancel(id)
		}

		t.instances[serviceType] = append(list[:idx], list[idx+1:]...)
		return true
	}
	return false
}

// clearItems implements §4.4's clearItems: remove every Instance under
// serviceType. onRemove is called once per removed Instance; the table
// itself cancels nothing, so onRemove is where the caller cancels the
// instance's outstanding queries (the counterpart of removeItem's onCancel).
func (t *instanceTable) clearItems(serviceType string, onRemove func(*Instance)) {
	list := t.instances[serviceType]
	t.instances[serviceType] = nil

	for _, inst := range list {
		if onRemove != nil {
			onRemove(inst)
		}
	}
}

// items returns the Instances under serviceType, in table order.
func (t *instanceTable) items(serviceType string) []*Instance {
	return t.instances[serviceType]
}
