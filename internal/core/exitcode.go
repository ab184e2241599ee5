package core

// ExitCode is the process exit status reported by the dgawatch binary.
type ExitCode int

// Exit codes. The numbering is shared with the downstream tooling that supervises the detector.
const (
	ExitSuccess ExitCode = iota
	ExitFailure
	ExitHelp
	ExitConfigCheckFailure
	ExitCaptureCreationFailure
	ExitPublisherCreationFailure
	ExitPublisherTimeout
	ExitStoreConnectionFailure
)

var exitCodeNames = map[ExitCode]string{
	ExitSuccess:                  "success",
	ExitFailure:                  "failure",
	ExitHelp:                     "help",
	ExitConfigCheckFailure:       "config_check_failure",
	ExitCaptureCreationFailure:   "capture_creation_failure",
	ExitPublisherCreationFailure: "publisher_creation_failure",
	ExitPublisherTimeout:         "publisher_timeout",
	ExitStoreConnectionFailure:   "store_connection_failure",
}

func (c ExitCode) String() string {
	if name, ok := exitCodeNames[c]; ok {
		return name
	}
	return "unknown"
}

// CodedError carries the exit code a fatal startup error should terminate the process with.
type CodedError struct {
	Code ExitCode
	Err  error
}

// WithExitCode attaches an exit code to err. A nil err stays nil.
func WithExitCode(code ExitCode, err error) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Err: err}
}

func (e *CodedError) Error() string { return e.Err.Error() }

func (e *CodedError) Unwrap() error { return e.Err }
