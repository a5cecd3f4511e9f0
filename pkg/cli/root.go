// Package cli wires the sprintplanner commands together.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/harrisonrobin/sprintplanner/pkg/auth"
	"github.com/harrisonrobin/sprintplanner/pkg/azure"
	"github.com/harrisonrobin/sprintplanner/pkg/cache"
	"github.com/harrisonrobin/sprintplanner/pkg/config"
	"github.com/harrisonrobin/sprintplanner/pkg/logging"
	"github.com/harrisonrobin/sprintplanner/pkg/parser"
	"github.com/harrisonrobin/sprintplanner/pkg/prefix"
	"github.com/harrisonrobin/sprintplanner/pkg/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const httpTimeout = 30 * time.Second

// app holds what the commands share. Remote parts are built on first use.
type app struct {
	configPath string
	debug      bool
	refresh    bool

	cfg      *config.Config
	log      *zap.Logger
	registry *prefix.Registry
	parser   *parser.Parser
	client   *azure.Client
	store    *session.Store
}

// Execute runs the root command with os.Args and interrupt handling.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "sprintplanner",
		Short:         "Plan sprints in plain text and publish them to Azure DevOps",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/sprintplanner/config.yaml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "log remote requests and parser decisions")
	root.PersistentFlags().BoolVar(&a.refresh, "refresh", false, "ignore cached activity types and area paths")

	root.AddCommand(
		newPublishCommand(a),
		newListCommand(a),
		newCheckCommand(a),
		newIterationsCommand(a),
		newAreasCommand(a),
		newHistoryCommand(a),
		newWatchCommand(a),
		newConfigCommand(a),
		newLoginCommand(a),
	)
	return root
}

func (a *app) setup() error {
	var err error
	if a.configPath == "" {
		if a.configPath, err = config.GetConfigPath(); err != nil {
			return fmt.Errorf("could not find path to configuration file: %w", err)
		}
	}
	if a.cfg, err = config.LoadFile(a.configPath); err != nil {
		return err
	}
	if a.debug {
		a.cfg.Debug = true
		a.cfg.Log.Level = "debug"
	}

	if a.log, err = logging.New(logging.Config{Level: a.cfg.Log.Level, Format: a.cfg.Log.Format}); err != nil {
		return err
	}

	if a.registry, err = prefix.ForProcess(a.cfg.Process); err != nil {
		return err
	}
	a.parser = parser.New(a.registry, a.log.Named("parser"))
	return nil
}

func (a *app) configDir() string {
	return filepath.Dir(a.configPath)
}

// remote builds the REST client and session store.
func (a *app) remote(ctx context.Context) (*azure.Client, *session.Store, error) {
	if a.client != nil {
		return a.client, a.store, nil
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w (see `sprintplanner config set`)", err)
	}

	httpClient := auth.NewPATClient(a.cfg.Token, httpTimeout)
	if a.cfg.OAuth.Enabled() {
		c, err := auth.NewOAuthClient(ctx, a.oauthSettings(), a.configDir(), a.log)
		if err != nil {
			return nil, nil, err
		}
		c.Timeout = httpTimeout
		httpClient = c
	}

	client, err := azure.NewClient(azure.Options{
		Organization: a.cfg.Organization,
		Project:      a.cfg.Project,
		Team:         a.cfg.Team,
		BaseURL:      a.cfg.API.BaseURL,
		HTTPClient:   httpClient,
		Rate:         a.cfg.API.Rate,
		Burst:        a.cfg.API.Burst,
		Logger:       a.log.Named("azure"),
	})
	if err != nil {
		return nil, nil, err
	}
	a.client = client

	remote := &cachedRemote{
		Client:  client,
		prefix:  a.cfg.Organization + "/" + a.cfg.Project,
		refresh: a.refresh,
		log:     a.log,
	}
	if remote.cache, err = cache.Open(cache.DefaultPath(a.configDir()), cache.DefaultTTL); err != nil {
		a.log.Warn("remote cache unavailable", zap.Error(err))
	}
	a.store = session.New(remote, a.parser, a.log.Named("session"))
	return a.client, a.store, nil
}

func (a *app) oauthSettings() auth.OAuthSettings {
	return auth.OAuthSettings{
		Tenant:       a.cfg.OAuth.Tenant,
		ClientID:     a.cfg.OAuth.ClientID,
		ClientSecret: a.cfg.OAuth.ClientSecret,
		Scopes:       a.cfg.OAuth.Scopes,
	}
}
