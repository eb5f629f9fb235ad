package main

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"taskboard/client"
	"taskboard/config"
	"taskboard/domain"
)

var (
	regName     string
	regEmail    string
	regPassword string
	regConfirm  string

	loginEmail    string
	loginPassword string
	noSave        bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and store its session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := bufio.NewReader(cmd.InOrStdin())
		var err error
		if regPassword == "" {
			if regPassword, err = prompt(cmd, in, "Password: "); err != nil {
				return err
			}
		}
		if regConfirm == "" {
			if regConfirm, err = prompt(cmd, in, "Confirm password: "); err != nil {
				return err
			}
		}
		c := client.New(cfg.ServerURL, "")
		s, err := c.Register(cmd.Context(), domain.Registration{
			Name:            regName,
			Email:           regEmail,
			Password:        regPassword,
			ConfirmPassword: regConfirm,
		})
		if err != nil {
			return err
		}
		return keepSession(cmd, s)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginPassword == "" {
			var err error
			if loginPassword, err = prompt(cmd, bufio.NewReader(cmd.InOrStdin()), "Password: "); err != nil {
				return err
			}
		}
		c := client.New(cfg.ServerURL, "")
		s, err := c.Login(cmd.Context(), domain.Credentials{Email: loginEmail, Password: loginPassword})
		if err != nil {
			return err
		}
		return keepSession(cmd, s)
	},
}

func init() {
	registerCmd.Flags().StringVar(&regName, "name", "", "display name")
	registerCmd.Flags().StringVar(&regEmail, "email", "", "email address")
	registerCmd.Flags().StringVar(&regPassword, "password", "", "password (prompted when empty)")
	registerCmd.Flags().StringVar(&regConfirm, "confirm-password", "", "password confirmation (prompted when empty)")
	registerCmd.Flags().BoolVar(&noSave, "no-save", false, "print the token instead of saving it")

	loginCmd.Flags().StringVar(&loginEmail, "email", "", "email address")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password (prompted when empty)")
	loginCmd.Flags().BoolVar(&noSave, "no-save", false, "print the token instead of saving it")

	rootCmd.AddCommand(registerCmd, loginCmd)
}

func prompt(cmd *cobra.Command, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func keepSession(cmd *cobra.Command, s client.Session) error {
	out := cmd.OutOrStdout()
	if noSave {
		fmt.Fprintln(out, s.Token)
		return nil
	}
	path := cfg.File
	if path == "" {
		path = filepath.Join(config.DefaultDir(), "taskboard.yaml")
	}
	if err := config.SaveToken(path, cfg.ServerURL, s.Token); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Fprintf(out, "Signed in as %s <%s>. Session saved to %s\n", s.User.Name, s.User.Email, path)
	return nil
}
