package run

import (
	"fmt"
	"time"
)

// PauseRequest is returned as an error by a unit of work that wants to
// suspend itself until an external resume. Timeout bounds how long the run
// may stay paused; a paused run that is never resumed in time is failed by
// the pause expiration sweeper. A zero Timeout means no expiration.
type PauseRequest struct {
	Timeout time.Duration
}

func (p *PauseRequest) Error() string {
	if p.Timeout <= 0 {
		return "run requested pause"
	}
	return fmt.Sprintf("run requested pause (expires in %s)", p.Timeout)
}
