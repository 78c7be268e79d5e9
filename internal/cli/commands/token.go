package commands

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/admin/internal/cli/ui"
	"github.com/conduit-lang/admin/internal/demo"
	"github.com/conduit-lang/admin/internal/web/auth"
)

// askPassword prompts on the terminal; tests replace it
var askPassword = func(message string) (string, error) {
	var password string
	prompt := &survey.Password{Message: message}
	if err := survey.AskOne(prompt, &password, survey.WithValidator(survey.Required)); err != nil {
		return "", err
	}
	return password, nil
}

// NewTokenCommand creates the token command
func NewTokenCommand() *cobra.Command {
	var (
		password string
		demoFlag bool
	)

	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a bearer token for a configured user",
		Long: `Check a user's password and print a bearer token signed with auth.secret.

The token is accepted by any server sharing the same secret. The password
is prompted for when --password is not given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, args[0], password, demoFlag)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")
	cmd.Flags().BoolVar(&demoFlag, "demo", false, "Use the demo accounts when no users are configured")

	return cmd
}

func runToken(cmd *cobra.Command, username, password string, demoFlag bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		ui.Message{Context: "configuration", Problem: "auth.secret is not set", NoColor: noColor,
			Detail: "Tokens issued here must be signed with the secret the server uses.",
			Hints:  []string{"set auth.secret or CONDUIT_ADMIN_AUTH_SECRET"}}.Write(cmd.ErrOrStderr())
		return errors.New("auth.secret is required to issue tokens")
	}

	users, err := cfg.Directory()
	if err != nil {
		return err
	}
	if demoFlag && len(cfg.Users) == 0 {
		if users, err = demo.Users(); err != nil {
			return err
		}
	}

	known := users.Usernames()
	if !contains(known, username) {
		ui.UnknownUser(username, known, noColor).Write(cmd.ErrOrStderr())
		return fmt.Errorf("unknown user %s", username)
	}

	if password == "" {
		if password, err = askPassword(fmt.Sprintf("Password for %s:", username)); err != nil {
			return err
		}
	}

	identity, err := users.Authenticate(username, password)
	if err != nil {
		return err
	}
	svc := auth.NewAuthService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	token, err := svc.GenerateToken(identity)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	ui.Success(cmd.ErrOrStderr(), fmt.Sprintf("token for %s expires in %s", username, svc.TTL()), noColor)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
