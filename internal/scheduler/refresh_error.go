package scheduler

import (
	"errors"

	"github.com/pollux-gateway/pollux/internal/refresher"
)

// isPermanent reports whether err represents an OAuth auth failure
// (invalid_grant or equivalent) rather than a transient network/5xx
// failure, deciding whether the Scheduler disables the credential or
// re-queues it for a later retry.
func isPermanent(err error) bool {
	var perm *refresher.PermanentError
	return errors.As(err, &perm)
}
