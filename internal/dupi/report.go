package dupi

// ScanReport summarizes one scan pass.
type ScanReport struct {
	RunID      int64
	Root       string
	Generation int64

	// FilesIndexed counts records written during the pass.
	FilesIndexed int64
	FilesHashed  int64
	BytesHashed  int64

	// MarkedMissing counts records flipped to missing when the generation
	// completed. Zero for an incomplete pass.
	MarkedMissing int64

	Status       ScanRunStatus
	SoftFailures []*SoftFailure
}

// TraversalFailures returns the subset of soft failures that cover a
// whole subtree.
func (r *ScanReport) TraversalFailures() []*SoftFailure {
	var out []*SoftFailure
	for _, f := range r.SoftFailures {
		if f.Kind == FailureTraversal {
			out = append(out, f)
		}
	}
	return out
}

// Complete reports whether the pass finished and its generation was
// completed.
func (r *ScanReport) Complete() bool {
	return r.Status == RunComplete
}
