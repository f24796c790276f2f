package services

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rutaviva/booking-backend/internal/models"
	"github.com/rutaviva/booking-backend/internal/repository"
)

// IntentExpirationService sweeps pending intents past their TTL. Checkout
// holds no inventory, so expiry is bookkeeping: it keeps reported state
// honest, and Confirm still honors a late provider-confirmed payment.
type IntentExpirationService struct {
	intents  *repository.IntentRepository
	logger   *logrus.Logger
	stopCh   chan struct{}
	interval time.Duration
}

// NewIntentExpirationService creates a new intent expiration service.
func NewIntentExpirationService(
	intents *repository.IntentRepository,
	interval time.Duration,
	logger *logrus.Logger,
) *IntentExpirationService {
	return &IntentExpirationService{
		intents:  intents,
		logger:   logger,
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

// Start begins the background expiration job.
func (s *IntentExpirationService) Start() {
	s.logger.WithField("interval", s.interval).Info("Starting intent expiration sweep")
	go s.run()
}

// Stop stops the background expiration job.
func (s *IntentExpirationService) Stop() {
	close(s.stopCh)
}

func (s *IntentExpirationService) run() {
	s.RunOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopCh:
			s.logger.Info("Intent expiration sweep stopped")
			return
		}
	}
}

// RunOnce runs a single expiration cycle.
func (s *IntentExpirationService) RunOnce() {
	sessionIDs, err := s.intents.ListSessionIDs()
	if err != nil {
		s.logger.WithError(err).Error("Failed to list intents for expiration sweep")
		return
	}

	expired := 0
	for _, sessionID := range sessionIDs {
		intent, err := s.intents.GetBySessionID(sessionID)
		if err != nil || intent == nil {
			continue
		}
		if intent.Status != models.StatusPending || !intent.IsExpired() {
			continue
		}

		intent.Status = models.StatusExpired
		if err := s.intents.Save(intent); err != nil {
			s.logger.WithError(err).WithField("reference", intent.Reference).Error("Failed to expire intent")
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.WithField("count", expired).Info("Expired stale booking intents")
	}
}
