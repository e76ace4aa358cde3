package ingestion

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"prebuildd/core"
	"prebuildd/models"
	"prebuildd/services"
)

// SecretTokenVerifier authenticates deliveries carrying the minted secret
// verbatim as "{userId}|{tokenValue}". When requireCloneURLScope is set
// (GitLab), the matching token must additionally be scoped to the exact
// clone URL of the triggering repository.
type SecretTokenVerifier struct {
	users                services.UsersService
	tokens               services.TokensService
	requireCloneURLScope bool
}

func NewSecretTokenVerifier(
	users services.UsersService,
	tokens services.TokensService,
	requireCloneURLScope bool,
) *SecretTokenVerifier {
	return &SecretTokenVerifier{
		users:                users,
		tokens:               tokens,
		requireCloneURLScope: requireCloneURLScope,
	}
}

func (v *SecretTokenVerifier) VerifyWebhook(
	ctx context.Context,
	delivery *Delivery,
) (*models.User, error) {
	userID, tokenValue, ok := core.SplitWebhookSecretToken(delivery.Secret)
	if !ok {
		return nil, fmt.Errorf("malformed webhook secret")
	}

	userOpt, err := v.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	user, found := userOpt.Get()
	if !found {
		return nil, fmt.Errorf("unknown user: %s", userID)
	}

	tokens, err := v.tokens.GetTokensWithScope(
		ctx, core.InternalAuthProviderID, user.ID, core.PrebuildTokenScope)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook tokens: %w", err)
	}

	for _, token := range tokens {
		if subtle.ConstantTimeCompare([]byte(token.Value), []byte(tokenValue)) != 1 {
			continue
		}
		if v.requireCloneURLScope && !token.HasScope(delivery.Event.CloneURL) {
			continue
		}
		return user, nil
	}
	return nil, fmt.Errorf("no matching webhook token for user %s", user.ID)
}

// HMACVerifier authenticates deliveries signed with X-Hub-Signature-256.
// The hook was installed with the secret "{userId}|{tokenValue}", so the
// signature is recomputed with that composition from the stored tokens.
// Candidate signers are the owners of the projects watching the delivering
// repository; a repository nobody watches has no valid signer.
type HMACVerifier struct {
	users    services.UsersService
	tokens   services.TokensService
	projects services.ProjectsService
}

func NewHMACVerifier(
	users services.UsersService,
	tokens services.TokensService,
	projects services.ProjectsService,
) *HMACVerifier {
	return &HMACVerifier{users: users, tokens: tokens, projects: projects}
}

func (v *HMACVerifier) VerifyWebhook(
	ctx context.Context,
	delivery *Delivery,
) (*models.User, error) {
	signature := strings.TrimPrefix(delivery.Signature, "sha256=")
	if signature == "" {
		return nil, fmt.Errorf("missing webhook signature")
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("malformed webhook signature")
	}

	projects, err := v.projects.GetProjectsByCloneURL(ctx, delivery.Event.CloneURL)
	if err != nil {
		return nil, fmt.Errorf("failed to look up projects: %w", err)
	}

	seen := make(map[string]bool)
	for i := range projects {
		ownerID, err := v.projects.GetProjectOwnerUserID(ctx, &projects[i])
		if err != nil || seen[ownerID] {
			continue
		}
		seen[ownerID] = true

		userOpt, err := v.users.GetUserByID(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up project owner: %w", err)
		}
		user, found := userOpt.Get()
		if !found {
			continue
		}

		tokens, err := v.tokens.GetTokensWithScope(
			ctx, core.InternalAuthProviderID, user.ID, core.PrebuildTokenScope)
		if err != nil {
			return nil, fmt.Errorf("failed to load webhook tokens: %w", err)
		}
		for _, token := range tokens {
			mac := hmac.New(sha256.New, []byte(core.WebhookSecretToken(user.ID, token.Value)))
			mac.Write(delivery.RawPayload)
			if hmac.Equal(mac.Sum(nil), expected) {
				return user, nil
			}
		}
	}
	return nil, fmt.Errorf("webhook signature matched no project owner token for %s",
		delivery.Event.CloneURL)
}

// AppInstallationVerifier resolves GitHub App deliveries, whose transport
// authenticity the handler already checked against the App webhook
// secret. The acting user is the sender's connected account, falling back
// to the owner of the project watching the repository.
type AppInstallationVerifier struct {
	host     string
	users    services.UsersService
	projects services.ProjectsService
}

func NewAppInstallationVerifier(
	host string,
	users services.UsersService,
	projects services.ProjectsService,
) *AppInstallationVerifier {
	return &AppInstallationVerifier{host: host, users: users, projects: projects}
}

func (v *AppInstallationVerifier) VerifyWebhook(
	ctx context.Context,
	delivery *Delivery,
) (*models.User, error) {
	if delivery.InstallationID == 0 {
		return nil, fmt.Errorf("missing app installation id")
	}

	if delivery.SenderAuthID != "" {
		userOpt, err := v.users.GetUserByIdentity(ctx, v.host, delivery.SenderAuthID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up sender: %w", err)
		}
		if user, found := userOpt.Get(); found {
			return user, nil
		}
	}

	// Sender has no account here; fall back to whoever watches the repo.
	projects, err := v.projects.GetProjectsByCloneURL(ctx, delivery.Event.CloneURL)
	if err != nil {
		return nil, fmt.Errorf("failed to look up projects: %w", err)
	}
	for i := range projects {
		ownerID, err := v.projects.GetProjectOwnerUserID(ctx, &projects[i])
		if err != nil {
			continue
		}
		userOpt, err := v.users.GetUserByID(ctx, ownerID)
		if err != nil {
			continue
		}
		if user, found := userOpt.Get(); found {
			return user, nil
		}
	}
	return nil, fmt.Errorf("no user connected for installation %d", delivery.InstallationID)
}
