package types

// Status is the transfer state shared by chunks and files
type Status int

const (
	StatusPending Status = iota
	StatusProgress
	StatusSuccess
	StatusError
	StatusRetry
	StatusAbort
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProgress:
		return "progress"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusRetry:
		return "retry"
	case StatusAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name so JSON payloads stay readable
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
