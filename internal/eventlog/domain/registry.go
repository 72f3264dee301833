package domain

// Registry holds the set of event types the application may emit. It is
// constructed once at startup and passed to consumers explicitly.
type Registry struct {
	types map[string]struct{}
}

func NewRegistry(types ...string) *Registry {
	r := &Registry{types: make(map[string]struct{}, len(types))}
	for _, t := range types {
		r.types[t] = struct{}{}
	}
	return r
}

// DefaultRegistry registers every event type the core emits.
func DefaultRegistry() *Registry {
	return NewRegistry(
		EventCustomerCreated,
		EventCustomerDeleted,
		EventProjectCreated,
		EventProjectDeleted,
		EventResourceStateChanged,
		EventLinkStateChanged,
		EventLinkSyncFailed,
		EventQuotaLimitChanged,
		EventQuotaThresholdBreached,
		EventQuotaExceededRejection,
	)
}

func (r *Registry) Known(eventType string) bool {
	if r == nil {
		return false
	}
	_, ok := r.types[eventType]
	return ok
}
