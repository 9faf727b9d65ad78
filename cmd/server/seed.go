package main

import (
	"mavedb/internal/db"
	"mavedb/internal/domain"
	"mavedb/internal/user"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// seedCmd creates a development account if it does not exist yet.
func seedCmd() *cobra.Command {
	testUser := domain.User{IsActive: true}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the database with a development user",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := bootstrap()
			if err != nil {
				return err
			}
			defer db.CloseDb(log)

			if err := db.Migrate(db.AppDb); err != nil {
				return err
			}
			return seed(cmd, log, user.NewRepository(db.AppDb), testUser)
		},
	}
	cmd.Flags().StringVar(&testUser.Username, "username", "testuser", "username of the seeded account")
	cmd.Flags().StringVar(&testUser.Email, "email", "test@example.com", "email of the seeded account")
	cmd.Flags().StringVar(&testUser.Password, "password", "password123", "password of the seeded account")
	cmd.Flags().BoolVar(&testUser.IsSuperuser, "superuser", false, "grant superuser rights")
	return cmd
}

func seed(cmd *cobra.Command, log *zap.Logger, repo user.UserRepository, u domain.User) error {
	ctx := cmd.Context()

	if _, err := repo.FindByEmail(ctx, u.Email); err == nil {
		log.Info("test user already exists", zap.String("email", u.Email))
		return nil
	}

	if err := user.NewService(repo).Register(ctx, &u); err != nil {
		return err
	}
	log.Info("created test user", zap.String("email", u.Email), zap.Uint64("id", u.ID))
	return nil
}
