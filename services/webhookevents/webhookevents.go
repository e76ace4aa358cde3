package webhookevents

import (
	"context"
	"fmt"

	"prebuildd/core"
	"prebuildd/db"
	"prebuildd/models"
)

type WebhookEventsService struct {
	eventsRepo *db.PostgresWebhookEventsRepository
}

func NewWebhookEventsService(repo *db.PostgresWebhookEventsRepository) *WebhookEventsService {
	return &WebhookEventsService{eventsRepo: repo}
}

func (s *WebhookEventsService) RecordEvent(
	ctx context.Context,
	provider, eventType, rawEvent string,
) (*models.WebhookEvent, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}

	event, err := s.eventsRepo.CreateEvent(ctx, provider, eventType, rawEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return event, nil
}

func (s *WebhookEventsService) UpdateEvent(
	ctx context.Context,
	id string,
	update models.WebhookEventUpdate,
) error {
	if !core.IsValidULID(id) {
		return fmt.Errorf("webhook event id must be a valid ULID")
	}
	if err := s.eventsRepo.UpdateEvent(ctx, id, update); err != nil {
		return fmt.Errorf("failed to update webhook event: %w", err)
	}
	return nil
}

func (s *WebhookEventsService) GetEventsByCloneURL(
	ctx context.Context,
	cloneURL string,
	limit int,
) ([]models.WebhookEvent, error) {
	if cloneURL == "" {
		return nil, fmt.Errorf("clone_url cannot be empty")
	}
	if limit <= 0 {
		limit = 100
	}
	return s.eventsRepo.GetEventsByCloneURL(ctx, cloneURL, limit)
}
