// Package errsinktest provides a Reporter that remembers what it was given.
package errsinktest

import (
	"context"
	"sync"

	"statkeeper/internal/errsink"
)

type Report struct {
	Err     error
	Context errsink.Context
}

type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) Report(_ context.Context, err error, ec *errsink.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report := Report{Err: err}
	if ec != nil {
		report.Context = *ec
	}
	r.reports = append(r.reports, report)
}

func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}
