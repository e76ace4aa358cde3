// Package ingestion is the shared webhook pipeline every provider handler
// feeds into: audit the delivery, authenticate it to a user, normalize it,
// run the prebuild policy and hand qualifying events to the prebuild
// manager on a supervised background task.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"

	"prebuildd/configprovider"
	"prebuildd/contextparser"
	"prebuildd/middleware"
	"prebuildd/models"
	"prebuildd/policy"
	"prebuildd/services"
	"prebuildd/usecases/prebuilds"
)

// ErrUnauthorized rejects a delivery whose secret did not resolve to a
// user. Handlers map it to the provider's expected status code.
var ErrUnauthorized = errors.New("webhook delivery is not authorized")

// Delivery is one inbound webhook, normalized by a provider handler. The
// authentication fields are populated according to the provider's scheme;
// the pipeline's verifier decides which ones it needs.
type Delivery struct {
	Provider  string
	EventType string

	RawPayload []byte
	Event      *models.RepositoryEvent

	// Secret is the "{userId}|{tokenValue}" string for secret-token
	// providers (GitLab header, Bitbucket query parameter).
	Secret string
	// Signature is the X-Hub-Signature-256 header for HMAC providers.
	Signature string
	// SenderAuthID identifies the acting provider account for
	// installation-authenticated deliveries.
	SenderAuthID string
	// InstallationID is the GitHub App installation the delivery came
	// through; zero elsewhere.
	InstallationID int64
}

// Verifier authenticates a delivery to the user it is trusted on behalf
// of.
type Verifier interface {
	VerifyWebhook(ctx context.Context, delivery *Delivery) (*models.User, error)
}

// PrebuildStarter is the slice of the prebuild manager the pipeline
// drives.
type PrebuildStarter interface {
	StartPrebuild(ctx context.Context, params prebuilds.StartPrebuildParams) (*models.StartPrebuildResult, error)
}

// CheckRegistrar attaches a provider check to a started prebuild.
type CheckRegistrar interface {
	RegisterCheckRun(ctx context.Context, installationID int64, prebuildID string, info models.CheckRunInfo) error
}

// MetricsRecorder is the subset of the metrics collector the pipeline
// uses.
type MetricsRecorder interface {
	RecordWebhookReceived(provider string)
	RecordWebhookUnauthorized(provider string)
	RecordWebhookIgnored(provider string)
}

// ConfigResolver maps a repository host to the config provider that can
// fetch its workspace configuration.
type ConfigResolver struct {
	byHost map[string]configprovider.Provider
}

func NewConfigResolver() *ConfigResolver {
	return &ConfigResolver{byHost: make(map[string]configprovider.Provider)}
}

func (r *ConfigResolver) Register(host string, provider configprovider.Provider) {
	r.byHost[host] = provider
}

func (r *ConfigResolver) Resolve(host string) (configprovider.Provider, error) {
	provider, ok := r.byHost[host]
	if !ok {
		return nil, fmt.Errorf("no config provider for host: %s", host)
	}
	return provider, nil
}

type Pipeline struct {
	verifier      Verifier
	webhookEvents services.WebhookEventsService
	projects      services.ProjectsService
	tokens        services.TokensService
	parsers       *contextparser.Registry
	configs       *ConfigResolver
	starter       PrebuildStarter
	checks        CheckRegistrar
	alerts        *middleware.ErrorAlertMiddleware
	metrics       MetricsRecorder
}

func NewPipeline(
	verifier Verifier,
	webhookEvents services.WebhookEventsService,
	projects services.ProjectsService,
	tokens services.TokensService,
	parsers *contextparser.Registry,
	configs *ConfigResolver,
	starter PrebuildStarter,
	checks CheckRegistrar,
	alerts *middleware.ErrorAlertMiddleware,
	metrics MetricsRecorder,
) *Pipeline {
	return &Pipeline{
		verifier:      verifier,
		webhookEvents: webhookEvents,
		projects:      projects,
		tokens:        tokens,
		parsers:       parsers,
		configs:       configs,
		starter:       starter,
		checks:        checks,
		alerts:        alerts,
		metrics:       metrics,
	}
}

// Process runs a delivery through the pipeline. It returns
// ErrUnauthorized for failed authentication; every other failure is
// absorbed after being recorded, so handlers can answer 200 and avoid
// provider retry storms.
func (p *Pipeline) Process(ctx context.Context, delivery *Delivery) error {
	p.metrics.RecordWebhookReceived(delivery.Provider)

	// The audit row is written before authentication completes.
	audit, err := p.webhookEvents.RecordEvent(
		ctx, delivery.Provider, delivery.EventType, string(delivery.RawPayload))
	if err != nil {
		log.Printf("❌ Failed to record webhook event: %v", err)
	}

	user, err := p.verifier.VerifyWebhook(ctx, delivery)
	if err != nil {
		log.Printf("⚠️ Unauthorized %s webhook: %v", delivery.Provider, err)
		p.metrics.RecordWebhookUnauthorized(delivery.Provider)
		p.updateAudit(ctx, audit, models.WebhookEventUpdate{
			Status: statusPtr(models.WebhookEventUnauthorized),
		})
		return ErrUnauthorized
	}
	if user.Blocked {
		log.Printf("⚠️ Blocked user %s rejected on %s webhook", user.ID, delivery.Provider)
		p.metrics.RecordWebhookUnauthorized(delivery.Provider)
		p.updateAudit(ctx, audit, models.WebhookEventUpdate{
			Status:           statusPtr(models.WebhookEventUnauthorized),
			AuthorizedUserID: &user.ID,
		})
		return ErrUnauthorized
	}

	event := delivery.Event
	p.updateAudit(ctx, audit, models.WebhookEventUpdate{
		AuthorizedUserID: &user.ID,
		CloneURL:         &event.CloneURL,
		Branch:           &event.Branch,
		Commit:           &event.CommitSHA,
	})

	project := p.findProject(ctx, event.CloneURL)

	commit, config, accessToken, err := p.resolveCommit(ctx, user, event)
	if err != nil {
		log.Printf("⚠️ Could not resolve %s event for %s: %v",
			delivery.Provider, event.CloneURL, err)
		p.ignore(ctx, audit, delivery.Provider)
		return nil
	}

	if !policy.ShouldRunPrebuild(config, event) {
		log.Printf("📋 Prebuild not configured for %s@%s, ignoring",
			event.CloneURL, event.CommitSHA)
		p.ignore(ctx, audit, delivery.Provider)
		return nil
	}

	p.updateAudit(ctx, audit, models.WebhookEventUpdate{
		Status: statusPtr(models.WebhookEventProcessed),
	})

	p.spawnStart(audit, delivery, user, project, commit, config, accessToken)
	return nil
}

// spawnStart runs the prebuild start on a supervised background task. The
// webhook handler answers the provider immediately; the outcome lands on
// the audit row.
func (p *Pipeline) spawnStart(
	audit *models.WebhookEvent,
	delivery *Delivery,
	user *models.User,
	project *models.Project,
	commit *models.CommitContext,
	config *models.WorkspaceConfig,
	accessToken string,
) {
	taskName := fmt.Sprintf("prebuild-start-%s@%s", commit.Repository.CloneURL, commit.Revision)
	installationID := delivery.InstallationID
	event := delivery.Event

	p.alerts.SpawnBackgroundTask(taskName, func() error {
		ctx := context.Background()

		result, err := p.starter.StartPrebuild(ctx, prebuilds.StartPrebuildParams{
			OwnerID:     user.ID,
			Project:     project,
			Commit:      commit,
			Config:      config,
			Trigger:     models.PrebuildTriggerWebhook,
			AccessToken: accessToken,
		})
		if err != nil {
			p.updateAudit(ctx, audit, models.WebhookEventUpdate{
				PrebuildStatus: prebuildStatusPtr(models.PrebuildStatusTriggerFailed),
			})
			return fmt.Errorf("failed to start prebuild: %w", err)
		}

		p.updateAudit(ctx, audit, models.WebhookEventUpdate{
			PrebuildStatus: prebuildStatusPtr(models.PrebuildStatusTriggered),
			PrebuildID:     &result.PrebuildID,
		})

		if installationID != 0 && policy.ShouldDo(config, policy.ActionAddCheck) {
			info := models.CheckRunInfo{
				Owner:      commit.Repository.Owner,
				Repo:       commit.Repository.Name,
				HeadSHA:    headSHA(event),
				DetailsURL: commit.NormalizedContextURL,
			}
			if event.Kind == models.RepositoryEventPullRequest && event.PullRequestID != 0 {
				number := event.PullRequestID
				info.Issue = &number
				info.AddComment = policy.ShouldDo(config, policy.ActionAddComment)
				info.AddLabel = policy.ShouldDo(config, policy.ActionAddLabel)
			}
			if err := p.checks.RegisterCheckRun(ctx, installationID, result.PrebuildID, info); err != nil {
				return fmt.Errorf("failed to register check run: %w", err)
			}
		}
		return nil
	})
}

// resolveCommit parses the event into a commit context and fetches the
// workspace configuration at that commit.
func (p *Pipeline) resolveCommit(
	ctx context.Context,
	user *models.User,
	event *models.RepositoryEvent,
) (*models.CommitContext, *models.WorkspaceConfig, string, error) {
	parser, err := p.parsers.ResolveForCloneURL(event.RepoURL)
	if err != nil {
		return nil, nil, "", err
	}
	commit, err := parser.BuildCommitContext(event)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to build commit context: %w", err)
	}

	accessToken := p.providerAccessToken(ctx, user, commit.Repository.Host)

	configs, err := p.configs.Resolve(commit.Repository.Host)
	if err != nil {
		return nil, nil, "", err
	}
	config, err := configs.GetConfig(ctx, accessToken, commit)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to fetch workspace config: %w", err)
	}
	return commit, config, accessToken, nil
}

// providerAccessToken returns the user's API token for the host, or empty
// when none is stored. Token lookups always re-read from the store; the
// pipeline never caches credentials across requests.
func (p *Pipeline) providerAccessToken(ctx context.Context, user *models.User, host string) string {
	identity := user.IdentityFor(host)
	if identity == nil {
		return ""
	}
	entries, err := p.tokens.GetTokens(ctx, host, identity.AuthID)
	if err != nil {
		log.Printf("⚠️ Failed to load %s tokens for user %s: %v", host, user.ID, err)
		return ""
	}
	if len(entries) == 0 {
		return ""
	}
	return entries[0].Token.Value
}

func (p *Pipeline) findProject(ctx context.Context, cloneURL string) *models.Project {
	projects, err := p.projects.GetProjectsByCloneURL(ctx, cloneURL)
	if err != nil {
		log.Printf("⚠️ Failed to look up project for %s: %v", cloneURL, err)
		return nil
	}
	if len(projects) == 0 {
		return nil
	}
	return &projects[0]
}

func (p *Pipeline) ignore(ctx context.Context, audit *models.WebhookEvent, provider string) {
	p.metrics.RecordWebhookIgnored(provider)
	p.updateAudit(ctx, audit, models.WebhookEventUpdate{
		Status:         statusPtr(models.WebhookEventIgnored),
		PrebuildStatus: prebuildStatusPtr(models.PrebuildStatusIgnoredUnconfigured),
	})
}

func (p *Pipeline) updateAudit(
	ctx context.Context,
	audit *models.WebhookEvent,
	update models.WebhookEventUpdate,
) {
	if audit == nil {
		return
	}
	if err := p.webhookEvents.UpdateEvent(ctx, audit.ID, update); err != nil {
		log.Printf("❌ Failed to update webhook event %s: %v", audit.ID, err)
	}
}

// headSHA is the commit a provider check should attach to: the PR head
// for pull request events, the pushed commit otherwise.
func headSHA(event *models.RepositoryEvent) string {
	if event.Kind == models.RepositoryEventPullRequest && event.PullRequestHeadSHA != "" {
		return event.PullRequestHeadSHA
	}
	return event.CommitSHA
}

func statusPtr(status models.WebhookEventStatus) *models.WebhookEventStatus {
	return &status
}

func prebuildStatusPtr(status models.PrebuildStatus) *models.PrebuildStatus {
	return &status
}
