package sync

import "log"

// SyncContext holds shared configuration for a single linking run.
// It is immutable after construction and is passed explicitly to the
// Rally client and the Linker.
type SyncContext struct {
	Config Config
	Logger *log.Logger

	// RunID tags log output and recorded requests for this run.
	RunID string

	// RecordPath, when set, records every HTTP exchange below this directory.
	RecordPath string

	// DryRun resolves records and builds update payloads without sending them.
	DryRun bool
}

// RecordRequests reports whether HTTP exchanges should be recorded.
func (s *SyncContext) RecordRequests() bool {
	return s.RecordPath != ""
}

func (s *SyncContext) logf(format string, v ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
	}
}
