package state

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// LocalProfileKey is the profile used while no user is signed in.
const LocalProfileKey = "local"

// DeviceID returns the stable identifier of this installation, generating
// and persisting one on first use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	var id string

	err := UpdateJSON(ctx, s, KeyDeviceID, func(v *string) error {
		if strings.TrimSpace(*v) != "" {
			id = *v
			return ErrNoChange
		}

		*v = uuid.NewString()
		id = *v

		s.logger.Info("generated device id", slog.String("device_id", id))

		return nil
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

// ActiveProfileKey returns the active profile pointer, "local" when unset.
func (s *Store) ActiveProfileKey(ctx context.Context) (string, error) {
	var key string

	if _, err := s.GetJSON(ctx, KeyActiveProfile, &key); err != nil {
		return "", err
	}

	if strings.TrimSpace(key) == "" {
		return LocalProfileKey, nil
	}

	return key, nil
}

// SetActiveProfileKey moves the active profile pointer.
func (s *Store) SetActiveProfileKey(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("state: empty profile key")
	}

	return s.SetJSON(ctx, KeyActiveProfile, key)
}

// RefreshToken returns the encrypted refresh token stored for uid.
func (s *Store) RefreshToken(ctx context.Context, uid string) (string, bool, error) {
	var tokens map[string]string

	if _, err := s.GetJSON(ctx, KeyRefreshTokens, &tokens); err != nil {
		return "", false, err
	}

	enc, ok := tokens[uid]

	return enc, ok && enc != "", nil
}

// SetRefreshToken stores the encrypted refresh token for uid.
func (s *Store) SetRefreshToken(ctx context.Context, uid, encrypted string) error {
	return UpdateJSON(ctx, s, KeyRefreshTokens, func(tokens *map[string]string) error {
		if *tokens == nil {
			*tokens = make(map[string]string)
		}

		(*tokens)[uid] = encrypted

		return nil
	})
}

// DeleteRefreshToken forgets the refresh token for uid.
func (s *Store) DeleteRefreshToken(ctx context.Context, uid string) error {
	return UpdateJSON(ctx, s, KeyRefreshTokens, func(tokens *map[string]string) error {
		if _, ok := (*tokens)[uid]; !ok {
			return ErrNoChange
		}

		delete(*tokens, uid)

		return nil
	})
}
