package transport

import (
	"io"

	"github.com/dd0wney/cluso-ccm/pkg/logging"
)

// resourceCleanup closes registered sockets in reverse order unless Clear
// is called first. Start uses it so a failed dial closes the listener.
type resourceCleanup struct {
	logger    logging.Logger
	resources []namedCloser
}

type namedCloser struct {
	closer io.Closer
	name   string
}

func newResourceCleanup(logger logging.Logger) *resourceCleanup {
	return &resourceCleanup{logger: logger, resources: make([]namedCloser, 0, 4)}
}

func (rc *resourceCleanup) Add(closer io.Closer, name string) {
	rc.resources = append(rc.resources, namedCloser{closer: closer, name: name})
}

// Cleanup closes everything registered. It is idempotent.
func (rc *resourceCleanup) Cleanup() {
	_ = rc.CloseAll()
}

func (rc *resourceCleanup) Clear() {
	rc.resources = rc.resources[:0]
}

// CloseAll closes every resource and returns the first error.
func (rc *resourceCleanup) CloseAll() error {
	var firstErr error
	for i := len(rc.resources) - 1; i >= 0; i-- {
		r := rc.resources[i]
		if r.closer == nil {
			continue
		}
		if err := r.closer.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			rc.logger.Warn("failed to close socket", logging.String("socket", r.name), logging.Error(err))
		}
	}
	rc.resources = rc.resources[:0]
	return firstErr
}
