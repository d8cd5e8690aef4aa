package retrieval

import "fmt"

// RetrievalError reports an upstream fetch that failed after its retry
// budget was spent. Attempts includes the first try.
type RetrievalError struct {
	Fingerprint string
	Page        int
	Attempts    int
	Err         error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval: page %d failed after %d attempts: %v", e.Page, e.Attempts, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}
