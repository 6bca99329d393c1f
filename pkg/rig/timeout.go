package rig

import (
	"fmt"
	"time"

	"github.com/chazu/archfuse/pkg/kernel"
)

// DefaultScriptTimeout is the hard limit for one classification.
const DefaultScriptTimeout = 2 * time.Second

// scriptResult passes a classification through a channel.
type scriptResult struct {
	role kernel.Role
	err  error
}

// waitWithTimeout waits for a result from ch, but returns a timeout error
// if the script runs longer than timeout. On timeout the goroutine may
// still be running; its buffered send is simply never read.
func waitWithTimeout(ch <-chan scriptResult, timeout time.Duration) (kernel.Role, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.role, res.err
	case <-timer.C:
		return "", fmt.Errorf("classifier script timed out after %s", timeout)
	}
}
