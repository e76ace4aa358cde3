package core

import "strings"

// InternalAuthProviderID is the marker auth provider under which internal
// identities are created on demand. Webhook secrets minted at install time
// are stored as tokens of this identity, never of the Git provider identity.
const InternalAuthProviderID = "Prebuildd"

// PrebuildTokenScope marks a token as a webhook secret usable to
// authenticate inbound prebuild webhooks.
const PrebuildTokenScope = "prebuilds"

// DashboardTokenScope marks a token as a dashboard API credential.
const DashboardTokenScope = "dashboard"

// WebhookSecretToken builds the wire form of a webhook secret,
// "{userId}|{tokenValue}". Providers that transport the secret verbatim
// (GitLab header, Bitbucket query parameter) are configured with this
// string at install time.
func WebhookSecretToken(userID, tokenValue string) string {
	return userID + "|" + tokenValue
}

// SplitWebhookSecretToken splits an inbound "{userId}|{tokenValue}" secret
// into its parts. ok is false when the separator is missing or either part
// is empty.
func SplitWebhookSecretToken(secret string) (userID, tokenValue string, ok bool) {
	idx := strings.Index(secret, "|")
	if idx <= 0 || idx == len(secret)-1 {
		return "", "", false
	}
	return secret[:idx], secret[idx+1:], true
}
