package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/admin/internal/cli/ui"
	"github.com/conduit-lang/admin/internal/web/server"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var (
		demoFlag bool
		port     int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin over HTTP",
		Long: `Serve the library catalogue admin over HTTP until SIGINT or SIGTERM.

Records live in memory unless database.url is set. With --demo the
catalogue is seeded when empty and, when no users are configured, the
accounts admin, librarian and reader are available with their username
as password.`,
		Example: `  conduit-admin serve --demo
  CONDUIT_ADMIN_DATABASE_URL=admin.db conduit-admin serve --port 9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, demoFlag, port)
		},
	}

	cmd.Flags().BoolVar(&demoFlag, "demo", false, "Seed the demo catalogue and accounts")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override server.port")

	return cmd
}

func runServe(cmd *cobra.Command, demoFlag bool, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		ui.Message{Context: "configuration", Problem: err.Error(), NoColor: noColor,
			Hints: []string{"check conduit-admin.yml and CONDUIT_ADMIN_* variables"}}.Write(cmd.ErrOrStderr())
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logger, err := cfg.Logging.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, logger, appOptions{demo: demoFlag})
	if err != nil {
		return err
	}
	for _, w := range a.warnings {
		ui.Message{Level: ui.LevelWarning, Problem: w, NoColor: noColor}.Write(cmd.ErrOrStderr())
		logger.Warn(w)
	}

	srvCfg := server.DefaultConfig(a.handler)
	srvCfg.Address = cfg.Server.Address()
	if cfg.Server.CertFile != "" {
		srvCfg.TLSConfig = &server.TLSConfig{CertFile: cfg.Server.CertFile, KeyFile: cfg.Server.KeyFile}
	}
	if a.db != nil {
		srvCfg.Database = server.DefaultDatabaseConfig(a.db)
	}
	srv, err := server.New(srvCfg, logger)
	if err != nil {
		a.close(context.Background())
		return err
	}

	gs := server.NewGracefulShutdown(srv, &server.ShutdownConfig{
		Timeout: cfg.Server.ShutdownTimeout,
		Logger:  logger,
	})
	gs.RegisterHook("streams", func(context.Context) error {
		cancel()
		return nil
	})
	for _, c := range a.closers {
		gs.RegisterHook(c.name, c.fn)
	}

	if err := srv.Listen(); err != nil {
		a.close(context.Background())
		return err
	}

	scheme := "http"
	if srvCfg.TLSConfig != nil {
		scheme = "https"
	}
	ui.Success(cmd.OutOrStdout(), fmt.Sprintf("conduit-admin listening on %s://%s", scheme, srv.Addr()), noColor)
	if demoFlag && len(cfg.Users) == 0 {
		hint := color.New(color.FgHiBlack)
		hint.Fprintf(cmd.OutOrStdout(), "  demo accounts: %v (password = username)\n", a.users.Usernames())
	}
	logger.Info("serving",
		zap.String("addr", srv.Addr()),
		zap.Bool("demo", demoFlag),
		zap.Bool("tasks", a.runner != nil))

	return gs.Run(ctx)
}
