//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

// CircuitStatus is the circuit breaker's state machine position.
type CircuitStatus string

const (
	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half-open"
)

// CircuitState is the per (workspace, hostname, provider) circuit breaker
// record, stored in the shared cache with a 24-hour idle TTL.
// Invariants: state=open implies LastFailureAt > 0; state=closed implies
// Failures=0 once a success or successful half-open probe has reset it.
type CircuitState struct {
	State         CircuitStatus `json:"state"`
	Failures      int           `json:"failures"`
	LastFailureAt int64         `json:"lastFailureAt"` // ms epoch
	OpenCount     int           `json:"openCount"`
}
