package memory

// Capability states whether the embedding service is available. It is
// decided at construction time and immutable afterwards; a disabled
// capability carries the reason it was turned off.
type Capability struct {
	enabled bool
	reason  string
}

// Enabled returns an available capability.
func Enabled() Capability {
	return Capability{enabled: true}
}

// Disabled returns an unavailable capability with the given reason.
func Disabled(reason string) Capability {
	return Capability{reason: reason}
}

// Available reports whether embedding operations may run.
func (c Capability) Available() bool {
	return c.enabled
}

// Reason explains why the capability is disabled; empty when enabled.
func (c Capability) Reason() string {
	return c.reason
}
