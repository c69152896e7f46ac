package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-service/internal/auth"
	"chat-service/internal/auth/handler"
	"chat-service/internal/auth/provider"
	"chat-service/internal/auth/state"
	"chat-service/internal/chat"
	"chat-service/internal/config"
	"chat-service/internal/logger"
	"chat-service/internal/middleware"
	"chat-service/internal/providerconfig"
	"chat-service/internal/realtime"
	"chat-service/internal/session"
	"chat-service/internal/user"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	providerConfigs := providerconfig.NewRepository(infra.DB.DB, infra.Cipher)

	oidcProvider, err := provider.NewOIDC(resolveProviderConfig(ctx, cfg, providerConfigs))
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}

	codec, err := session.NewTokenCodec([]byte(cfg.JWTSecret), cfg.JWTIssuer, nil)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}

	users := user.NewPostgresRepository(infra.DB.DB)

	// role and active flag are re-read from users on every verification
	sessions := session.NewManager(session.NewRedisStore(infra.Redis.Client), codec, session.ManagerConfig{
		Timeout:          cfg.SessionTimeout,
		RefreshThreshold: cfg.SessionRefreshThreshold,
		Accounts:         users,
	})

	cookie := session.CookieOptions{Secure: cfg.Production()}
	chats := chat.NewPostgresRepository(infra.DB.DB)

	hub := realtime.NewHub(chats, realtime.Config{IdleTimeout: cfg.WSIdleTimeout})
	hub.StartSweeper(ctx, cfg.WSSweepInterval)

	authHandler := handler.NewHandler(
		oidcProvider,
		state.NewRedisStore(infra.Redis.Client, cfg.StateTTL),
		users,
		sessions,
		cookie,
	)

	authMiddleware := middleware.NewAuthMiddleware(sessions)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(),
		middleware.CORS(cfg.AllowedOrigins()),
	)

	// ----------------------------
	// Public Routes
	// ----------------------------

	authHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		conns, members := hub.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"ws_connections":    conns,
			"ws_active_members": members,
		})
	})

	// authenticates before upgrading
	realtime.NewHandler(hub, sessions, cfg.AllowedOrigins()).RegisterRoutes(router)

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(
		middleware.GinRequireAuth(authMiddleware),
		middleware.AutoRefresh(sessions, cookie),
	)

	userHandler := user.NewHandler(users)
	userHandler.RegisterRoutes(api)
	chat.NewHandler(chats).RegisterRoutes(api)

	admin := api.Group("/admin")
	admin.Use(middleware.RequireRole(auth.RoleAdmin))
	userHandler.RegisterAdminRoutes(admin)
	providerconfig.NewHandler(providerConfigs, cfg.OrganizationID, providerTester(cfg)).RegisterRoutes(admin)

	// ----------------------------
	// Cleanup
	// ----------------------------

	return router, func() error {
		hub.Close()
		return infra.Close()
	}, nil
}

// providerTester runs discovery for a stored registration. The issuer is
// chosen the same way resolveProviderConfig chooses it.
func providerTester(cfg config.Config) providerconfig.Tester {
	return func(ctx context.Context, pc *providerconfig.Config) error {
		issuer := cfg.OIDCIssuer
		if issuer == "" {
			issuer = provider.EntraIssuer(pc.TenantID)
		}
		p, err := provider.NewOIDC(provider.Config{
			Issuer:       issuer,
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  pc.RedirectURI,
		})
		if err != nil {
			return err
		}
		return p.Discover(ctx)
	}
}

type providerConfigGetter interface {
	Get(ctx context.Context, organizationID string) (*providerconfig.Config, error)
}

// resolveProviderConfig starts from the environment and lets a stored
// organization configuration override the client registration. Changes to
// the stored configuration apply on restart.
func resolveProviderConfig(ctx context.Context, cfg config.Config, store providerConfigGetter) provider.Config {
	pc := provider.Config{
		Issuer:       cfg.OIDCIssuer,
		ClientID:     cfg.AzureClientID,
		ClientSecret: cfg.AzureClientSecret,
		RedirectURL:  cfg.RedirectURL(),
	}
	tenant := cfg.AzureTenantID

	stored, err := store.Get(ctx, cfg.OrganizationID)
	switch {
	case err == nil:
		pc.ClientID = stored.ClientID
		pc.ClientSecret = stored.ClientSecret
		if stored.TenantID != "" {
			tenant = stored.TenantID
		}
		if stored.RedirectURI != "" {
			pc.RedirectURL = stored.RedirectURI
		}
		logger.Info("using stored identity provider configuration", map[string]any{
			"organization_id": cfg.OrganizationID,
			"client_id":       stored.ClientID,
		})
	case errors.Is(err, providerconfig.ErrNotFound):
	default:
		logger.Warn("stored identity provider configuration unavailable, using environment", map[string]any{
			"organization_id": cfg.OrganizationID,
			"error":           err,
		})
	}

	if pc.Issuer == "" && tenant != "" {
		pc.Issuer = provider.EntraIssuer(tenant)
	}
	return pc
}
