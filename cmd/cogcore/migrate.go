package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Samrat2803/cognitive-core/config"
	"github.com/Samrat2803/cognitive-core/internal/store"
)

func migrateCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath(cmd))
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			st, err := store.NewWithDSN(context.Background(), dsn)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Println("migrations applied")
			return nil
		},
	}
}
