// Package models holds structs for modelling data, e.g. Host data, Channel data, etc.
package models

// Host is one federated instance. The host string is a normalized lowercase
// bare hostname. Health fields are orthogonal to walk progress.
type Host struct {
	Host            string
	HealthStatus    string
	HealthCheckedAt int64 // unix ms, 0 = never probed
	HealthError     string
	LastError       string
	LastErrorAt     int64
	LastErrorSource string
}

// Edge is one directed follow relation between two instances.
type Edge struct {
	Source string
	Target string
}
