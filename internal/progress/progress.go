// Package progress defines the capability pipeline stages use to report
// completion percentages.
package progress

// Sink receives percentage updates (0-100) from a running stage.
type Sink interface {
	Report(percent int)
}

// Func adapts a plain function to a Sink.
type Func func(percent int)

// Report calls f(percent).
func (f Func) Report(percent int) {
	f(percent)
}

// Discard is a Sink that drops every update.
var Discard Sink = Func(func(int) {})

// Report forwards percent to s, tolerating a nil sink.
func Report(s Sink, percent int) {
	if s == nil {
		return
	}
	s.Report(percent)
}

// Recorder collects every reported value. Useful in tests and in the CLI
// where updates are printed after the fact.
type Recorder struct {
	Values []int
}

// Report appends percent to the recorded values.
func (r *Recorder) Report(percent int) {
	r.Values = append(r.Values, percent)
}
