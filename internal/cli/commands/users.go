package commands

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/admin/internal/cli/ui"
	"github.com/conduit-lang/admin/internal/web/auth"
)

// askNewPassword prompts twice; tests replace it
var askNewPassword = func() (string, error) {
	answers := struct {
		Password string
		Confirm  string
	}{}
	qs := []*survey.Question{
		{Name: "password", Prompt: &survey.Password{Message: "Password:"}, Validate: survey.Required},
		{Name: "confirm", Prompt: &survey.Password{Message: "Confirm password:"}, Validate: survey.Required},
	}
	if err := survey.Ask(qs, &answers); err != nil {
		return "", err
	}
	if answers.Password != answers.Confirm {
		return "", errors.New("passwords do not match")
	}
	return answers.Password, nil
}

// NewUsersCommand creates the users command
func NewUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage configured accounts",
	}

	cmd.AddCommand(newUsersListCommand())
	cmd.AddCommand(newUsersHashCommand())

	return cmd
}

func newUsersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the accounts from the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Users) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users configured.")
				return nil
			}

			users := make([]auth.User, len(cfg.Users))
			copy(users, cfg.Users)
			sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

			t := ui.NewTable(cmd.OutOrStdout(), noColor, "ID", "USERNAME", "ROLES", "SUPERUSER")
			for _, u := range users {
				t.AddRow(strconv.FormatInt(u.ID, 10), u.Username, strings.Join(u.Roles, ","), strconv.FormatBool(u.Superuser))
			}
			t.Render()
			return nil
		},
	}
}

func newUsersHashCommand() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print a bcrypt hash for users[].password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				if password, err = askNewPassword(); err != nil {
					return err
				}
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")

	return cmd
}
