package diskhash

type errorType string

func (e errorType) Error() string { return string(e) }

// ErrReadOnly is returned by Get, Remove, and WithValue on a Map opened
// read-only.
const ErrReadOnly = errorType("diskhash: map is read-only")

// ErrClosed is returned by Get, Remove, and WithValue on a Map after Close
// has run.
const ErrClosed = errorType("diskhash: map is closed")
