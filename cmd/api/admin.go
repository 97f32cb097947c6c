package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"normative/api/internal/authpw"
	"normative/api/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			log.Info("migrations applied", "dir", cfg.MigrationsDir, "applied", applied)
			return nil
		},
	}
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage annotator accounts",
	}

	var (
		req         authpw.CreateUserRequest
		passwordEnv string
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an annotator account",
		Example: `  normative-api user create --username marker --permission can_mark_as_marked
  normative-api user create --username admin --superuser --password-env ADMIN_PASSWORD`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if req.Password == "" && passwordEnv != "" {
				req.Password = os.Getenv(passwordEnv)
			}

			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := authpw.NewService(store.NewPostgresStore(db)).CreateUser(cmd.Context(), req)
			if err != nil {
				return err
			}
			log.Info("user created", "user_id", user.ID, "username", user.Username, "permissions", user.Permissions)
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}
	createCmd.Flags().StringVar(&req.Username, "username", "", "login name")
	createCmd.Flags().StringVar(&req.Password, "password", "", "password (at least 8 characters)")
	createCmd.Flags().StringVar(&passwordEnv, "password-env", "", "read the password from this environment variable")
	createCmd.Flags().StringSliceVar(&req.Permissions, "permission", nil, "permission codename, repeatable (can_mark_as_marked, can_mark_as_checked)")
	createCmd.Flags().BoolVar(&req.Staff, "staff", false, "mark the account as staff")
	createCmd.Flags().BoolVar(&req.Superuser, "superuser", false, "grant every permission")
	_ = createCmd.MarkFlagRequired("username")

	userCmd.AddCommand(createCmd)
	return userCmd
}
