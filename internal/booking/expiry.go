package booking

import (
	"context"
	"errors"
	"fmt"
)

// ExpireStaleRequests cancels every REQUESTED appointment older than the
// configured response window. It runs from the background worker but
// goes through the exact same transition path as an interactive cancel,
// so a doctor answering at the same moment simply wins or loses the CAS;
// the loser's item is skipped and the invariants hold either way.
func (s *Service) ExpireStaleRequests(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.ResponseWindow)

	stale, err := s.repo.FindStaleRequested(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale booking requests: %w", err)
	}

	expired := 0
	for _, appt := range stale {
		if _, err := s.Cancel(ctx, appt.ID); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Errorw("auto-expiry failed", "appointment_id", appt.ID, "error", err)
			continue
		}
		expired++
	}

	s.metrics.AddExpired(expired)
	return expired, nil
}
