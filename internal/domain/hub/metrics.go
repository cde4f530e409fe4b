package hub

// Metrics receives hub counters. The prometheus recorder in
// infrastructure/metrics implements it.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	Broadcast(scope string)
	BrokerError(op string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ConnectionOpened()  {}
func (NopMetrics) ConnectionClosed()  {}
func (NopMetrics) Broadcast(string)   {}
func (NopMetrics) BrokerError(string) {}

// Broadcast scopes.
const (
	ScopeRoom      = "room"
	ScopeAll       = "all"
	ScopeOperator  = "operator"
	ScopeAnalytics = "analytics"
)
