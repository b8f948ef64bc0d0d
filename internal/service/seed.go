package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"logingate/internal/config"
	"logingate/internal/models"
	"logingate/internal/repository"
	"logingate/internal/security"
)

// SeedAccounts inserts the configured accounts that do not exist yet.
// Existing records are never overwritten, so a restart cannot unlock an
// account or reset its counters.
func SeedAccounts(
	ctx context.Context,
	accounts repository.AccountStore,
	hasher security.CredentialHasher,
	seed []config.SeedAccount,
	log zerolog.Logger,
) error {
	for _, s := range seed {
		email := NormalizeEmail(s.Email)
		if email == "" {
			return fmt.Errorf("seed account without email")
		}
		role := models.Role(s.Role)
		switch role {
		case "":
			role = models.RoleUser
		case models.RoleUser, models.RoleAdmin:
		default:
			return fmt.Errorf("seed account %s: unknown role %q", email, s.Role)
		}

		credential, err := hasher.Hash(s.Password)
		if err != nil {
			return fmt.Errorf("seed account %s: %w", email, err)
		}
		inserted, err := accounts.Ensure(ctx, models.Account{
			Email:      email,
			Credential: credential,
			Role:       role,
			Active:     s.Active,
		})
		if err != nil {
			return fmt.Errorf("seed account %s: %w", email, err)
		}
		if inserted {
			log.Info().Str("email", email).Str("role", string(role)).Bool("active", s.Active).Msg("seeded account")
		}
	}
	return nil
}
