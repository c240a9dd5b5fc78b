package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"statkeeper/internal/analytics"
	"statkeeper/internal/audit"
	"statkeeper/internal/bot"
	"statkeeper/internal/config"
	"statkeeper/internal/counter"
	"statkeeper/internal/errsink"
	"statkeeper/internal/platform"
	"statkeeper/internal/privacy"
	"statkeeper/internal/reactions"
	"statkeeper/internal/reconcile"
	"statkeeper/internal/storage"
	"statkeeper/internal/tracking"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          "statkeeper",
		Short:        "Discord message statistics bot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")

	rootCmd.AddCommand(migrateCommand(), auditCommand(), userCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			store.Close()
			logger.Info("migrations applied")
			return nil
		},
	}
}

func auditCommand() *cobra.Command {
	var guildID, stage string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Rebuild statistics from Discord without starting the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := audit.ParsePlan(stage)
			if err != nil {
				return err
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			session, err := bot.NewSession(cfg.DiscordToken)
			if err != nil {
				return err
			}
			client := platform.NewDiscord(session, cfg.Audit.PageSize)
			sink := errsink.New(logger, cfg.ErrorLogPath, nil)
			orchestrator := audit.New(
				reconcile.New(store, client, sink, logger),
				counter.New(store, client, sink, logger),
				logger,
			)

			req := audit.Request{Tier: audit.TierGlobalAdmin, Stages: plan}
			if guildID != "" {
				req = audit.Request{Tier: audit.TierGuildAdmin, GuildID: guildID, Stages: plan}
			}
			report, err := orchestrator.Run(ctx, req, func(update audit.Update) {
				logger.Info("audit progress", zap.String("stage", update.Stage.String()), zap.Int("completed", update.Completed))
			})
			if err != nil {
				return err
			}
			logger.Info("audit completed",
				zap.Int("users_created", report.Users.Created),
				zap.Int("guilds_created", report.Guilds.Created),
				zap.Int("channels_created", report.Channels.Created),
				zap.Int("messages_scanned", report.Messages.Messages),
				zap.Int("counters_written", report.Messages.Written),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "Limit the audit to one guild")
	cmd.Flags().StringVar(&stage, "stage", "all", "all, users, guilds, channels or messages")
	return cmd
}

func userCommand() *cobra.Command {
	var admin, banned bool
	cmd := &cobra.Command{
		Use:   "user <id>",
		Short: "Grant or revoke bot admin and ban flags for a known user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			userID := args[0]
			if cmd.Flags().Changed("admin") {
				if err := store.SetUserAdmin(cmd.Context(), userID, admin); err != nil {
					return fmt.Errorf("set admin for %s: %w", userID, err)
				}
			}
			if cmd.Flags().Changed("banned") {
				if err := store.SetUserBanned(cmd.Context(), userID, banned); err != nil {
					return fmt.Errorf("set banned for %s: %w", userID, err)
				}
			}
			user, err := store.GetUser(cmd.Context(), userID)
			if err != nil {
				return err
			}
			logger.Info("user flags",
				zap.String("user_id", user.ID),
				zap.String("username", user.Username),
				zap.Bool("admin", user.Admin),
				zap.Bool("banned", user.Banned),
				zap.Bool("message_tracking", user.MessageTracking),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "Bot admin (global audits, status, global leaderboard)")
	cmd.Flags().BoolVar(&banned, "banned", false, "Hide the user from leaderboards")
	return cmd
}

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*storage.Store, error) {
	store, err := storage.Open(cfg.Database.StoreOptions(logger))
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func runBot(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", zap.Error(err))
		return err
	}
	defer store.Close()

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	client := platform.NewDiscord(session, cfg.Audit.PageSize)
	sink := errsink.New(logger, cfg.ErrorLogPath, bot.NewChannelNotifier(session, cfg.LogsChannel))
	resolver := privacy.NewResolver(store)

	botSvc, err := bot.New(bot.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Session:   session,
		Platform:  client,
		Store:     store,
		Sink:      sink,
		Tracker:   tracking.New(store, resolver, logger),
		Privacy:   privacy.NewService(store),
		Resolver:  resolver,
		Reactions: reactions.New(store, client, sink, logger),
		Audit: audit.New(
			reconcile.New(store, client, sink, logger),
			counter.New(store, client, sink, logger),
			logger,
		),
		Analytics: analytics.New(store),
	})
	if err != nil {
		return err
	}
	if err := botSvc.Start(); err != nil {
		logger.Error("bot start failed", zap.Error(err))
		return err
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	botSvc.Close(shutdownCtx)
	return nil
}
