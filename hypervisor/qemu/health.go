package qemu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openclaw/carapace/hypervisor"
	"github.com/openclaw/carapace/utils"
)

// WaitHealthy polls the guest service health endpoint until it answers with
// a 2xx or the timeout elapses. Connection failures mean the guest network
// stack is not up yet and count as not-ready, never as a hard failure.
func (s *Supervisor) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	url := s.conf.HealthURL()
	hc := &http.Client{Timeout: s.healthInterval}

	err := utils.WaitFor(ctx, timeout, s.healthInterval, func() (bool, error) {
		if _, err := utils.HTTPGet(ctx, hc, url); err != nil {
			var se *utils.StatusError
			if errors.As(err, &se) {
				// Any success family answer counts; everything else means
				// the service is up but not healthy yet.
				return se.Code >= http.StatusOK && se.Code < http.StatusMultipleChoices, nil
			}
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%s after %s: %w", url, timeout, hypervisor.ErrHealthTimeout)
	}
	return nil
}
