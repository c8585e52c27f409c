package phase

// Phase is one of the four fixed workflow stages. Planning runs once
// globally before any issue; Coding, Testing and Review run per issue
// in that order.
type Phase string

const (
	Planning Phase = "planning"
	Coding   Phase = "coding"
	Testing  Phase = "testing"
	Review   Phase = "review"
)

// PerIssue returns the per-issue phases in execution order
func PerIssue() []Phase {
	return []Phase{Coding, Testing, Review}
}

func (p Phase) String() string {
	return string(p)
}
