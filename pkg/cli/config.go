package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrisonrobin/sprintplanner/pkg/auth"
	"github.com/harrisonrobin/sprintplanner/pkg/config"
	"github.com/harrisonrobin/sprintplanner/pkg/report"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one setting, e.g. `config set log.level debug`",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := config.SaveFile(a.cfg, a.configPath); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			report.NewPrinter(cmd.OutOrStdout()).Message(fmt.Sprintf("%s set", args[0]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.configPath)
			return nil
		},
	})

	return cmd
}

func newLoginCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize with Microsoft Entra ID and store the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.OAuth.Enabled() {
				return fmt.Errorf("oauth.client_id is not set, a personal access token needs no login")
			}

			tokenFile := filepath.Join(a.configDir(), auth.TokenFile)
			if _, err := os.Stat(tokenFile); err == nil {
				a.log.Info("removing existing token file", zap.String("path", tokenFile))
				if err := os.Remove(tokenFile); err != nil {
					return fmt.Errorf("could not delete token file %s, please delete it manually: %w", tokenFile, err)
				}
			} else if !os.IsNotExist(err) {
				a.log.Warn("could not check token file", zap.String("path", tokenFile), zap.Error(err))
			}

			out := cmd.OutOrStdout()
			prompt := func(url string) {
				fmt.Fprintf(out, "Go to the following link in your browser:\n%v\n", url)
			}
			if err := auth.Login(cmd.Context(), a.oauthSettings(), a.configDir(), prompt, a.log); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			report.NewPrinter(out).Message("Authentication successful! Token saved to " + tokenFile)
			return nil
		},
	}
}
