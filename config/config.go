package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type GitHubAppConfig struct {
	AppID         string
	AppPrivateKey string
	WebhookSecret string
}

// IsConfigured returns true if all required GitHub App configuration is present
func (c GitHubAppConfig) IsConfigured() bool {
	return c.AppID != "" &&
		c.AppPrivateKey != "" &&
		c.WebhookSecret != ""
}

type GitHubEnterpriseConfig struct {
	BaseURL string
}

// IsConfigured returns true if a GitHub Enterprise instance is configured
func (c GitHubEnterpriseConfig) IsConfigured() bool {
	return c.BaseURL != ""
}

type GitLabConfig struct {
	BaseURL string
}

type BitbucketServerConfig struct {
	BaseURL string
}

// IsConfigured returns true if a Bitbucket Server instance is configured
func (c BitbucketServerConfig) IsConfigured() bool {
	return c.BaseURL != ""
}

type WorkspaceManagerConfig struct {
	BaseURL        string
	AuthToken      string
	CallbackSecret string
}

// IsConfigured returns true if all required workspace manager configuration is present
func (c WorkspaceManagerConfig) IsConfigured() bool {
	return c.BaseURL != "" &&
		c.AuthToken != "" &&
		c.CallbackSecret != ""
}

type AppConfig struct {
	// Core configuration (always required)
	DatabaseURL        string
	DatabaseSchema     string
	BaseURL            string // public base URL, webhook callbacks are built from it
	Port               string // Optional with default "8080"
	CORSAllowedOrigins string // Optional with default "*"
	Environment        string
	AlertWebhookURL    string
	PrebuildsPerHour   int  // per-clone-URL start rate limit
	UseStrictConfig    bool // If true, error when any integration is not fully configured

	// Integration configurations (grouped)
	GitHubApp        GitHubAppConfig
	GitHubEnterprise GitHubEnterpriseConfig
	GitLab           GitLabConfig
	BitbucketServer  BitbucketServerConfig
	WorkspaceManager WorkspaceManagerConfig
}

func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️ Could not load .env file, continuing with system env vars")
	}

	// Core required configuration
	databaseURL, err := getEnvRequired("DB_URL")
	if err != nil {
		return nil, err
	}

	databaseSchema, err := getEnvRequired("DB_SCHEMA")
	if err != nil {
		return nil, err
	}

	baseURL, err := getEnvRequired("BASE_URL")
	if err != nil {
		return nil, err
	}

	prebuildsPerHour, err := strconv.Atoi(getEnvWithDefault("PREBUILDS_PER_HOUR", "100"))
	if err != nil {
		return nil, fmt.Errorf("PREBUILDS_PER_HOUR must be an integer: %w", err)
	}

	config := &AppConfig{
		// Core configuration
		DatabaseURL:        databaseURL,
		DatabaseSchema:     databaseSchema,
		BaseURL:            baseURL,
		Port:               getEnvWithDefault("PORT", "8080"),
		CORSAllowedOrigins: getEnvWithDefault("CORS_ALLOWED_ORIGINS", "*"),
		Environment:        getEnvWithDefault("ENVIRONMENT", "dev"),
		AlertWebhookURL:    getEnvWithDefault("ALERT_WEBHOOK_URL", ""),
		PrebuildsPerHour:   prebuildsPerHour,
		UseStrictConfig:    getEnvWithDefault("USE_STRICT_CONFIG", "true") == "true",

		// GitHub App configuration (optional)
		GitHubApp: GitHubAppConfig{
			AppID:         os.Getenv("GITHUB_APP_ID"),
			AppPrivateKey: os.Getenv("GITHUB_APP_PRIVATE_KEY"),
			WebhookSecret: os.Getenv("GITHUB_APP_WEBHOOK_SECRET"),
		},

		// GitHub Enterprise configuration (optional)
		GitHubEnterprise: GitHubEnterpriseConfig{
			BaseURL: os.Getenv("GHE_BASE_URL"),
		},

		// GitLab configuration (defaults to gitlab.com)
		GitLab: GitLabConfig{
			BaseURL: getEnvWithDefault("GITLAB_BASE_URL", "https://gitlab.com"),
		},

		// Bitbucket Server configuration (optional)
		BitbucketServer: BitbucketServerConfig{
			BaseURL: os.Getenv("BITBUCKET_SERVER_BASE_URL"),
		},

		// Workspace manager configuration (required for builds to run)
		WorkspaceManager: WorkspaceManagerConfig{
			BaseURL:        os.Getenv("WS_MANAGER_URL"),
			AuthToken:      os.Getenv("WS_MANAGER_TOKEN"),
			CallbackSecret: os.Getenv("WS_MANAGER_CALLBACK_SECRET"),
		},
	}

	// Log which integrations are configured
	if config.GitHubApp.IsConfigured() {
		log.Printf("✅ GitHub App configured")
	} else {
		log.Printf("⚠️ GitHub App not configured - github.com webhooks will be disabled")
		if config.UseStrictConfig {
			return nil, fmt.Errorf("GitHub App is not fully configured (USE_STRICT_CONFIG=true)")
		}
	}

	if config.GitHubEnterprise.IsConfigured() {
		log.Printf("✅ GitHub Enterprise configured: %s", config.GitHubEnterprise.BaseURL)
	} else {
		log.Printf("⚠️ GitHub Enterprise not configured - GHE webhooks will be disabled")
	}

	if config.BitbucketServer.IsConfigured() {
		log.Printf("✅ Bitbucket Server configured: %s", config.BitbucketServer.BaseURL)
	} else {
		log.Printf("⚠️ Bitbucket Server not configured - Bitbucket Server webhooks will be disabled")
	}

	if config.WorkspaceManager.IsConfigured() {
		log.Printf("✅ Workspace manager configured")
	} else {
		log.Printf("⚠️ Workspace manager not configured - prebuild workspaces cannot start")
		if config.UseStrictConfig {
			return nil, fmt.Errorf("workspace manager is not fully configured (USE_STRICT_CONFIG=true)")
		}
	}

	return config, nil
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set", key)
	}
	return value, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
