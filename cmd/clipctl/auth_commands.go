package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/geoclip/geoclip/internal/models"
)

type credentialFlags struct {
	email         string
	password      string
	passwordStdin bool
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.email, "email", "e", "", "Account email")
	cmd.Flags().StringVar(&f.password, "password", "", "Account password (prefer the prompt or --password-stdin)")
	cmd.Flags().BoolVar(&f.passwordStdin, "password-stdin", false, "Read the password from stdin")
}

func (f *credentialFlags) resolve(cmd *cobra.Command) (string, string, error) {
	p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())

	email := strings.TrimSpace(f.email)
	if email == "" {
		if f.passwordStdin {
			return "", "", errors.New("--email is required with --password-stdin")
		}
		value, err := p.line("Email: ")
		if err != nil {
			return "", "", err
		}
		email = value
	}

	password := f.password
	if password == "" {
		var err error
		if f.passwordStdin {
			password, err = p.line("")
		} else {
			password, err = p.secret("Password: ")
		}
		if err != nil {
			return "", "", err
		}
	}

	if email == "" || password == "" {
		return "", "", errors.New("email and password are required")
	}
	return email, password, nil
}

func newLoginCommand(ctx *commandContext) *cobra.Command {
	var creds credentialFlags

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.session(cmd)
			if err != nil {
				return err
			}
			if snap := manager.Snapshot(); snap.Authenticated() {
				return fmt.Errorf("already signed in as %s; run `clipctl logout` first", snap.User.Email)
			}

			email, password, err := creds.resolve(cmd)
			if err != nil {
				return err
			}
			if err := manager.Login(cmd.Context(), email, password); err != nil {
				return ctx.apiFailure("login failed", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", manager.Snapshot().User.Email)
			return nil
		},
	}
	creds.register(cmd)
	return cmd
}

func newRegisterCommand(ctx *commandContext) *cobra.Command {
	var creds credentialFlags
	var phone string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.session(cmd)
			if err != nil {
				return err
			}
			if snap := manager.Snapshot(); snap.Authenticated() {
				return fmt.Errorf("already signed in as %s; run `clipctl logout` first", snap.User.Email)
			}

			email, password, err := creds.resolve(cmd)
			if err != nil {
				return err
			}
			var phonePtr *string
			if p := strings.TrimSpace(phone); p != "" {
				phonePtr = &p
			}

			if err := manager.Register(cmd.Context(), email, password, phonePtr); err != nil {
				return ctx.apiFailure("registration failed", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Registered and signed in as %s\n", manager.Snapshot().User.Email)
			return nil
		},
	}
	creds.register(cmd)
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number shown on your uploads")
	return cmd
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := ctx.session(cmd)
			if err != nil {
				return err
			}
			manager.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := ctx.signedIn(cmd)
			if err != nil {
				return err
			}
			if err := manager.Refresh(cmd.Context()); err != nil {
				return ctx.requestFailure(cmd, "fetch account", err)
			}

			user := manager.Snapshot().User
			fmt.Fprintln(cmd.OutOrStdout(), renderProfile(*user, time.Now()))
			return nil
		},
	}
}

func renderProfile(user models.Profile, now time.Time) string {
	phone := user.PhoneNumber()
	if phone == "" {
		phone = "-"
	}
	since := "-"
	if !user.CreatedAt.IsZero() {
		since = fmt.Sprintf("%s (%s)", user.CreatedAt.Format(time.DateOnly), humanize.RelTime(user.CreatedAt.Time, now, "ago", "from now"))
	}
	return renderPairs([][2]string{
		{"ID", user.ID},
		{"Email", user.Email},
		{"Phone", phone},
		{"Member since", since},
	})
}
