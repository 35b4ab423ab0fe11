package transfer

import (
	"fmt"
)

// Finalize inspects a session whose chunks have all reached a terminal state
// and produces the session result. Success requires every chunk completed
// and none failed; any permanently failed chunk fails the whole session and
// no partial artifact is reported.
func Finalize(session *Session, cancelled bool) Result {
	completed, failed, retries := session.Counts()
	res := Result{
		BytesTransferred: session.TransferredBytes(),
		ChunksCompleted:  completed,
		ChunksFailed:     failed,
		RetryCount:       retries,
		Cancelled:        cancelled,
	}

	total := len(session.Chunks())
	if failed == 0 && completed == total && total > 0 {
		res.Success = true
		return res
	}

	if cancelled {
		res.Err = fmt.Errorf("transfer cancelled: %d of %d chunks completed", completed, total)
		return res
	}
	res.Err = &AggregateError{FailedChunks: failed, TotalRetries: retries}
	return res
}
