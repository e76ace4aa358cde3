package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"prebuildd/config"
	"prebuildd/configprovider"
	"prebuildd/contextparser"
	"prebuildd/db"
	"prebuildd/handlers"
	"prebuildd/headless"
	"prebuildd/integrations"
	"prebuildd/metrics"
	"prebuildd/middleware"
	"prebuildd/services/prebuilds"
	"prebuildd/services/projects"
	"prebuildd/services/tokens"
	"prebuildd/services/txmanager"
	"prebuildd/services/users"
	"prebuildd/services/webhookevents"
	"prebuildd/usecases/ingestion"
	prebuildmanager "prebuildd/usecases/prebuilds"
	"prebuildd/usecases/status"
	"prebuildd/workspace"

	bitbucketclient "prebuildd/clients/bitbucket"
	bitbucketserverclient "prebuildd/clients/bitbucketserver"
	githubclient "prebuildd/clients/github"
	gitlabclient "prebuildd/clients/gitlab"
)

func main() {
	if err := run(); err != nil {
		log.Printf("❌ Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	// Initialize error alert middleware
	alertMiddleware := middleware.NewErrorAlertMiddleware(middleware.AlertConfig{
		WebhookURL:  cfg.AlertWebhookURL,
		Environment: cfg.Environment,
		AppName:     "prebuildd",
	})

	// Initialize database connection and schema
	if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	// Initialize repositories with shared connection
	usersRepo := db.NewPostgresUsersRepository(dbConn, cfg.DatabaseSchema)
	tokensRepo := db.NewPostgresTokensRepository(dbConn, cfg.DatabaseSchema)
	projectsRepo := db.NewPostgresProjectsRepository(dbConn, cfg.DatabaseSchema)
	prebuildsRepo := db.NewPostgresPrebuildsRepository(dbConn, cfg.DatabaseSchema)
	workspacesRepo := db.NewPostgresWorkspacesRepository(dbConn, cfg.DatabaseSchema)
	updatablesRepo := db.NewPostgresUpdatablesRepository(dbConn, cfg.DatabaseSchema)
	webhookEventsRepo := db.NewPostgresWebhookEventsRepository(dbConn, cfg.DatabaseSchema)

	// Initialize transaction manager
	txManager := txmanager.NewTransactionManager(dbConn)

	usersService := users.NewUsersService(usersRepo)
	tokensService := tokens.NewTokensService(tokensRepo)
	projectsService := projects.NewProjectsService(projectsRepo)
	prebuildsService := prebuilds.NewPrebuildsService(prebuildsRepo, workspacesRepo, updatablesRepo)
	webhookEventsService := webhookevents.NewWebhookEventsService(webhookEventsRepo)

	// Provider API clients
	githubClient, err := githubclient.NewGitHubClient(
		"https://api.github.com", cfg.GitHubApp.AppID, []byte(cfg.GitHubApp.AppPrivateKey))
	if err != nil {
		return err
	}
	gitlabClient := gitlabclient.NewGitLabClient(cfg.GitLab.BaseURL)
	bitbucketClient := bitbucketclient.NewBitbucketClient()

	gitlabHost, err := contextparser.HostOf(cfg.GitLab.BaseURL)
	if err != nil {
		return err
	}

	// Context parsers and workspace config providers, keyed by host
	parsers := contextparser.NewRegistry()
	parsers.Register("github.com", &contextparser.GitHubParser{})
	parsers.Register(gitlabHost, &contextparser.GitLabParser{})
	parsers.Register("bitbucket.org", &contextparser.BitbucketParser{})

	configs := ingestion.NewConfigResolver()
	configs.Register("github.com", configprovider.NewYAMLConfigProvider(
		configprovider.NewGitHubFetcher("")))
	configs.Register(gitlabHost, configprovider.NewYAMLConfigProvider(
		configprovider.NewRawURLFetcher(configprovider.GitLabRawURL(cfg.GitLab.BaseURL))))
	configs.Register("bitbucket.org", configprovider.NewYAMLConfigProvider(
		configprovider.NewRawURLFetcher(configprovider.BitbucketRawURL())))

	// Commit history, used for incremental prebuild base lookup
	history := integrations.NewHistoryFetcher()
	history.RegisterGitHub("github.com", githubClient)
	history.RegisterGitLab(gitlabHost, gitlabClient)

	// Repository integrations, used at webhook-install time
	callbackBase := strings.TrimSuffix(cfg.BaseURL, "/")
	integrationRegistry := integrations.NewRegistry()
	// Hook-based GitHub repositories deliver to the HMAC endpoint
	// regardless of host; the github.com App needs no per-repo hook.
	integrationRegistry.Register(integrations.NewGitHubIntegration(
		"github.com", githubClient, usersService, tokensService, callbackBase+"/apps/ghe/"))
	integrationRegistry.Register(integrations.NewGitLabIntegration(
		gitlabHost, gitlabClient, usersService, tokensService, callbackBase+"/apps/gitlab/"))
	integrationRegistry.Register(integrations.NewBitbucketIntegration(
		"bitbucket.org", bitbucketClient, usersService, tokensService, callbackBase+"/apps/bitbucket/"))

	// Optional self-hosted instances
	if cfg.GitHubEnterprise.IsConfigured() {
		gheHost, err := contextparser.HostOf(cfg.GitHubEnterprise.BaseURL)
		if err != nil {
			return err
		}
		gheClient, err := githubclient.NewGitHubClient(
			strings.TrimSuffix(cfg.GitHubEnterprise.BaseURL, "/")+"/api/v3", "", nil)
		if err != nil {
			return err
		}
		parsers.Register(gheHost, &contextparser.GitHubParser{})
		configs.Register(gheHost, configprovider.NewYAMLConfigProvider(
			configprovider.NewGitHubFetcher(cfg.GitHubEnterprise.BaseURL)))
		history.RegisterGitHub(gheHost, gheClient)
		integrationRegistry.Register(integrations.NewGitHubIntegration(
			gheHost, gheClient, usersService, tokensService, callbackBase+"/apps/ghe/"))
	}
	if cfg.BitbucketServer.IsConfigured() {
		bbsHost, err := contextparser.HostOf(cfg.BitbucketServer.BaseURL)
		if err != nil {
			return err
		}
		bbsClient := bitbucketserverclient.NewBitbucketServerClient(cfg.BitbucketServer.BaseURL)
		parsers.Register(bbsHost, &contextparser.BitbucketServerParser{})
		configs.Register(bbsHost, configprovider.NewYAMLConfigProvider(
			configprovider.NewRawURLFetcher(
				configprovider.BitbucketServerRawURL(cfg.BitbucketServer.BaseURL))))
		integrationRegistry.Register(integrations.NewBitbucketServerIntegration(
			bbsHost, bbsClient, usersService, tokensService, callbackBase+"/apps/bitbucketserver/"))
	}

	// Prebuild orchestration
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	bus := headless.NewBus()
	factory := workspace.NewFactory(prebuildsService)
	starter := workspace.NewHTTPStarter(cfg.WorkspaceManager.BaseURL, cfg.WorkspaceManager.AuthToken)
	manager := prebuildmanager.NewPrebuildManager(
		prebuildsService, txManager, factory, starter, history, collector, cfg.PrebuildsPerHour)
	maintainer := status.NewPrebuildStatusMaintainer(prebuildsService, githubClient, bus, collector)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go maintainer.Run(runCtx)

	// One ingestion pipeline per authentication scheme
	newPipeline := func(verifier ingestion.Verifier) *ingestion.Pipeline {
		return ingestion.NewPipeline(
			verifier, webhookEventsService, projectsService, tokensService,
			parsers, configs, manager, maintainer, alertMiddleware, collector)
	}
	appPipeline := newPipeline(
		ingestion.NewAppInstallationVerifier("github.com", usersService, projectsService))
	hmacPipeline := newPipeline(
		ingestion.NewHMACVerifier(usersService, tokensService, projectsService))
	gitlabPipeline := newPipeline(
		ingestion.NewSecretTokenVerifier(usersService, tokensService, true))
	secretPipeline := newPipeline(
		ingestion.NewSecretTokenVerifier(usersService, tokensService, false))

	githubHandler := handlers.NewGitHubAppHandler(cfg.GitHubApp.WebhookSecret, appPipeline)
	gheHandler := handlers.NewGitHubEnterpriseHandler(hmacPipeline)
	gitlabHandler := handlers.NewGitLabHandler(gitlabPipeline)
	bitbucketHandler := handlers.NewBitbucketHandler(secretPipeline)
	bitbucketServerHandler := handlers.NewBitbucketServerHandler(secretPipeline)

	dashboardHandler := handlers.NewDashboardHandler(
		projectsService, prebuildsService, manager, integrationRegistry)
	internalHandler := handlers.NewInternalHandler(cfg.WorkspaceManager.CallbackSecret, bus)
	authMiddleware := middleware.NewAuthMiddleware(usersService, tokensService)

	// Create a new router
	router := mux.NewRouter()

	// Provider webhook endpoints
	router.HandleFunc("/apps/github/", githubHandler.HandleWebhook).Methods("POST")
	router.HandleFunc("/apps/ghe/", gheHandler.HandleWebhook).Methods("POST")
	router.HandleFunc("/apps/gitlab/", gitlabHandler.HandleWebhook).Methods("POST")
	router.HandleFunc("/apps/bitbucket/", bitbucketHandler.HandleWebhook).Methods("POST")
	router.HandleFunc("/apps/bitbucketserver/", bitbucketServerHandler.HandleWebhook).Methods("POST")

	// Dashboard API
	router.HandleFunc("/api/projects",
		authMiddleware.WithAuth(dashboardHandler.HandleListProjects)).Methods("GET")
	router.HandleFunc("/api/projects",
		authMiddleware.WithAuth(dashboardHandler.HandleCreateProject)).Methods("POST")
	router.HandleFunc("/api/projects/{projectId}/settings",
		authMiddleware.WithAuth(dashboardHandler.HandleUpdateProjectSettings)).Methods("PUT")
	router.HandleFunc("/api/projects/{projectId}/prebuilds",
		authMiddleware.WithAuth(dashboardHandler.HandleListPrebuilds)).Methods("GET")
	router.HandleFunc("/api/projects/{projectId}/prebuilds/install",
		authMiddleware.WithAuth(dashboardHandler.HandleInstallAutomatedPrebuilds)).Methods("POST")
	router.HandleFunc("/api/projects/{projectId}/prebuilds/install",
		authMiddleware.WithAuth(dashboardHandler.HandleUninstallAutomatedPrebuilds)).Methods("DELETE")
	router.HandleFunc("/api/prebuilds/{prebuildId}/retrigger",
		authMiddleware.WithAuth(dashboardHandler.HandleRetriggerPrebuild)).Methods("POST")
	router.HandleFunc("/api/repositories/prebuilds-status",
		authMiddleware.WithAuth(dashboardHandler.HandleAutomatedPrebuildsStatus)).Methods("GET")

	// Internal workspace manager callback
	router.HandleFunc("/internal/workspaces/{workspaceId}/status",
		internalHandler.HandleWorkspaceStatus).Methods("POST")

	// Observability
	router.Handle("/metrics", metrics.Handler(registry)).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			log.Printf("❌ Failed to write health check response: %v", err)
		}
	}).Methods("GET")

	// Setup CORS middleware
	allowedOrigins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i, origin := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(origin)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Setup and handle graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           alertMiddleware.HTTPMiddleware(c.Handler(router)),
		ReadHeaderTimeout: 30 * time.Second,
	}

	return handleGracefulShutdown(server)
}

func handleGracefulShutdown(server *http.Server) error {
	// Channel to listen for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		log.Printf("✅ Listening on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	<-stop
	log.Printf("🛑 Shutdown signal received, cleaning up...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown server gracefully
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ Server shutdown error: %v", err)
		return err
	}

	log.Printf("✅ Server stopped gracefully")
	return nil
}
