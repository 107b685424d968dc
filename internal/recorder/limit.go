package recorder

// SizeLimit checks the running output byte count against a budget.
type SizeLimit struct {
	max uint64
}

// NewSizeLimit returns a limit of n bytes. Zero disables the limit.
func NewSizeLimit(n uint64) SizeLimit {
	return SizeLimit{max: n}
}

// Enabled reports whether a budget is set.
func (l SizeLimit) Enabled() bool { return l.max > 0 }

// Bytes returns the configured budget.
func (l SizeLimit) Bytes() uint64 { return l.max }

// Exceeded reports whether total has met or passed the budget.
func (l SizeLimit) Exceeded(total uint64) bool {
	return l.Enabled() && total >= l.max
}
