package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"normative/api/internal/apiclient"
	"normative/api/internal/autoclass"
	"normative/api/internal/rbac"
	"normative/api/internal/store"
)

type generateOptions struct {
	title    string
	npa      string
	file     string
	remote   string
	username string
	password string
}

func newGenerateCmd() *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Split a legal text into norms and store them pre-annotated",
		Long: `generate sends the text to the configured classification model and stores
every returned norm as a document with keyword annotations, justification
points and a law type. Documents are written to the local database, or to a
running service with --remote.`,
		Example: `  normative-api generate --title "Статья 6.24" --npa KOAP --file article.txt --username marker
  cat article.txt | normative-api generate --title "Статья 6.24" --remote https://markup.example --username marker --password ...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.title, "title", "", "document title")
	cmd.Flags().StringVar(&opts.npa, "npa", "", "source act value from the NPA list")
	cmd.Flags().StringVar(&opts.file, "file", "-", "text file, - for stdin")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "base URL of a running service; empty writes to the local database")
	cmd.Flags().StringVar(&opts.username, "username", "", "account the documents are created for")
	cmd.Flags().StringVar(&opts.password, "password", "", "password, required with --remote")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func readText(cmd *cobra.Command, path string) (string, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return string(raw), nil
}

func runGenerate(cmd *cobra.Command, opts generateOptions) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	model, err := autoclass.FromConfig(cfg.Model)
	if err != nil {
		return err
	}
	text, err := readText(cmd, opts.file)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return autoclass.ErrEmptyText
	}

	ctx := cmd.Context()
	var (
		target autoclass.Store
		ac     rbac.AuthContext
	)
	if opts.remote != "" {
		if opts.password == "" {
			return errors.New("--password is required with --remote")
		}
		client := apiclient.New(opts.remote, cfg.Model.Timeout, log)
		if err := client.Login(ctx, opts.username, opts.password); err != nil {
			return err
		}
		if ac, err = client.Me(ctx); err != nil {
			return err
		}
		target = client
	} else {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		dataStore := store.NewPostgresStore(db)
		user, err := dataStore.GetUserByUsername(ctx, opts.username)
		if err != nil {
			return fmt.Errorf("user %q: %w", opts.username, err)
		}
		ac = rbac.NewAuthContext(user.ID, user.Username, user.Permissions, user.IsStaff, user.IsSuperuser)
		target = dataStore
	}

	result, err := autoclass.NewGenerator(model, target, log).Run(ctx, ac, autoclass.Request{
		Title: opts.title,
		Text:  text,
		NPA:   opts.npa,
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
