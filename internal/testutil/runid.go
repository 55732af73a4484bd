package testutil

// FixedRunIDs returns a run id generator that always yields id, for golden
// comparisons of suite output. An empty id becomes "run-fixed".
func FixedRunIDs(id string) func() string {
	if id == "" {
		id = "run-fixed"
	}
	return func() string { return id }
}
