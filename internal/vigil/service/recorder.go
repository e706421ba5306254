package service

// Recorder receives service-level counters. *metrics.Metrics implements
// it; nil means nothing is recorded.
type Recorder interface {
	Trigger(result string)
	ForcedRelease()
	Verification(result string)
	Issued()
	Enqueued(name string, evicted bool, depth int)
	Delivered(name string, depth int)
}

type nopRecorder struct{}

func (nopRecorder) Trigger(string)             {}
func (nopRecorder) ForcedRelease()             {}
func (nopRecorder) Verification(string)        {}
func (nopRecorder) Issued()                    {}
func (nopRecorder) Enqueued(string, bool, int) {}
func (nopRecorder) Delivered(string, int)      {}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
