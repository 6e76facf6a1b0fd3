package provision

// ProgressFunc receives (copied, total) byte counts. total is 0 when the
// descriptor does not declare a size. Values never decrease within a run;
// the same value may be reported twice.
type ProgressFunc func(copied, total int64)

// progressReporter coalesces progress calls to one per threshold bytes.
type progressReporter struct {
	sink      ProgressFunc
	total     int64
	threshold int64
	last      int64
}

func newProgressReporter(sink ProgressFunc, total, threshold int64) *progressReporter {
	if threshold <= 0 {
		threshold = defaultProgressThreshold
	}
	return &progressReporter{sink: sink, total: total, threshold: threshold}
}

func (r *progressReporter) emit(copied int64) {
	if copied < r.last {
		copied = r.last
	}
	r.last = copied
	if r.sink != nil {
		r.sink(copied, r.total)
	}
}

func (r *progressReporter) start(copied int64) { r.emit(copied) }

func (r *progressReporter) advance(copied int64) {
	if copied-r.last >= r.threshold {
		r.emit(copied)
	}
}

func (r *progressReporter) finish(copied int64) { r.emit(copied) }
