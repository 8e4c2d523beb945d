package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/moduspwnens/boa-chat/boachat"
)

var passwordFile string

func init() {
	loginCmd.Flags().StringVar(&passwordFile, "password-file", "", "read the password from this file, or - to prompt (default: prompt)")

	rootCmd.AddCommand(
		registerCmd,
		verifyCmd,
		loginCmd,
		logoutCmd,
		whoamiCmd,
		forgotCmd,
		resetPasswordCmd,
		passwordCmd,
		emailCmd,
		apiKeyCmd,
	)
}

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readNewPassword("Password: ")
		if err != nil {
			return err
		}
		return withClient(func(c *boachat.Client) error {
			id, err := c.Register(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Printf("Registration %s started. Check %s for the verification token, then run:\n", id, args[0])
			fmt.Printf("  boachat verify %s <token>\n", id)
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <registration-id> <token>",
	Short: "Confirm a registration or email change",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *boachat.Client) error {
			email, err := c.VerifyRegistration(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Verified %s.\n", email)
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and save credentials locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordFrom(env.fs, passwordFile, "Password: ")
		if err != nil {
			return err
		}
		return withClient(func(c *boachat.Client) error {
			creds, err := c.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s. Credentials expire %s.\n",
				creds.User.EmailAddress, humanize.Time(creds.ExpiresAt))
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget saved credentials",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		return withClient(func(c *boachat.Client) error {
			if err := c.Logout(); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		store := credentialStore()
		creds, ok := store.Get()
		if !ok {
			return boachat.ErrNotLoggedIn
		}
		fmt.Printf("User:    %s\n", creds.User.UserID)
		if creds.User.EmailAddress != "" {
			fmt.Printf("Email:   %s\n", creds.User.EmailAddress)
		}
		if creds.User.APIKey != "" {
			fmt.Printf("API key: %s\n", maskKey(creds.User.APIKey))
		}
		state := "expire"
		if creds.Expired(time.Now()) {
			state = "expired"
		}
		fmt.Printf("Credentials %s %s (%s)\n", state, humanize.Time(creds.ExpiresAt), store.Path())
		return nil
	},
}

var forgotCmd = &cobra.Command{
	Use:   "forgot <email>",
	Short: "Email a password reset token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *boachat.Client) error {
			if err := c.ForgotPassword(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Reset token sent to %s.\n", args[0])
			return nil
		})
	},
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password <email> <token>",
	Short: "Set a new password with an emailed reset token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readNewPassword("New password: ")
		if err != nil {
			return err
		}
		return withClient(func(c *boachat.Client) error {
			if err := c.ResetPassword(cmd.Context(), args[0], password, args[1]); err != nil {
				return err
			}
			fmt.Println("Password reset. You can log in now.")
			return nil
		})
	},
}

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change your password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		old, err := readSecret("Current password: ")
		if err != nil {
			return err
		}
		password, err := readNewPassword("New password: ")
		if err != nil {
			return err
		}
		return withClient(func(c *boachat.Client) error {
			if err := c.ChangePassword(cmd.Context(), old, password); err != nil {
				return err
			}
			fmt.Println("Password changed.")
			return nil
		})
	},
}

var emailCmd = &cobra.Command{
	Use:   "email <new-email>",
	Short: "Change your email address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *boachat.Client) error {
			id, err := c.ChangeEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Check %s for the verification token, then run:\n", args[0])
			fmt.Printf("  boachat verify %s <token>\n", id)
			return nil
		})
	},
}

var apiKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "Issue a new API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(func(c *boachat.Client) error {
			key, err := c.ResetAPIKey(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("New API key: %s\n", key)
			return nil
		})
	},
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
