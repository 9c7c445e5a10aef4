package phylotree

// ProgressSink receives coarse progress reports from long-running passes
// (full-tree comparisons, null-model cache builds). Implementations must be
// cheap: sinks are called once per outer-loop iteration of O(n) and O(n²)
// passes.
type ProgressSink interface {
	// Progress reports that done of total units of the labelled pass have
	// completed. total is 0 when the pass length is unknown.
	Progress(label string, done, total int)
}

// NoopProgress discards all progress reports. It is the default sink
// wherever one is not supplied.
type NoopProgress struct{}

// Progress implements ProgressSink.
func (NoopProgress) Progress(string, int, int) {}
