package bucket

import "fmt"

// DataError reports a malformed byte-level encoding: a truncated uvarint,
// an out-of-range length, or a META record where a META must not appear.
// Off is the byte offset within Data where decoding failed.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		}
		return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
	}
	return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
}

// MergeError reports a violation of the lifecycle invariants the merge
// engine enforces across levels: an equal-keyed (INIT,INIT) or (LIVE,INIT)
// collision, a protocol ceiling overrun, or a shadow-use violation.
type MergeError struct {
	OldHash  Hash
	NewHash  Hash
	Protocol uint32
	Msg      string
	Err      error
}

func mergeErrf(oldHash, newHash Hash, protocol uint32, err error, format string, args ...any) error {
	return &MergeError{oldHash, newHash, protocol, fmt.Sprintf(format, args...), err}
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

func (e *MergeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge(%s,%s)@v%d: %s: %v", e.OldHash.Short(), e.NewHash.Short(), e.Protocol, e.Msg, e.Err)
	}
	return fmt.Sprintf("merge(%s,%s)@v%d: %s", e.OldHash.Short(), e.NewHash.Short(), e.Protocol, e.Msg)
}

// ErrShutdown is the sentinel error Merge returns when the manager's
// shutdown flag is observed mid-merge. It does not identify a bucket pair,
// unlike MergeError, because it aborts independent of merge content.
var ErrShutdown = fmt.Errorf("incomplete bucket merge due to BucketManager shutdown")
