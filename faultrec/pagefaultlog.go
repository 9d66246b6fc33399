package faultrec

import "github.com/kernelsim/pagesim/paging"

const faultTableName = "page_faults"

// A PageFaultLog adapts a Recorder to the fault handler's FaultLogger
// interface, keeping the paging core free of any storage knowledge.
type PageFaultLog struct {
	rec Recorder
}

// NewPageFaultLog creates the page_faults table on the given recorder and
// returns a log that appends to it.
func NewPageFaultLog(rec Recorder) *PageFaultLog {
	rec.CreateTable(faultTableName, paging.FaultEvent{})

	return &PageFaultLog{rec: rec}
}

// LogFault records one fault event.
func (l *PageFaultLog) LogFault(ev paging.FaultEvent) {
	l.rec.Insert(faultTableName, ev)
}
