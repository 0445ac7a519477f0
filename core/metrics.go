package core

// Metrics records domain events for monitoring.
type Metrics interface {
	ObservePropagation(members int, err error)
	ObservePermissionCheck(permission string, granted bool)
}

type nopMetrics struct{}

func (nopMetrics) ObservePropagation(int, error)        {}
func (nopMetrics) ObservePermissionCheck(string, bool) {}

// NopMetrics discards everything.
var NopMetrics Metrics = nopMetrics{}
