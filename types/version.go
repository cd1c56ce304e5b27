package types

// Version is the canonical backfill version.
// The CLI and the run-log reader share this version.
const Version = "0.3.0"

// LogFormatVersion is the run-log header version this build reads and writes.
const LogFormatVersion = 1
