package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/tasksync/internal/identity"
)

// idToken returns a Firebase ID token for uid: the cached one while it has
// more than the refresh margin left, otherwise a freshly refreshed one.
// Refreshes for the same uid are collapsed so a rotated refresh token is
// never used twice.
func (e *Engine) idToken(ctx context.Context, uid string) (string, error) {
	if tok, ok := e.cfg.Session.Token(uid, e.cfg.Now(), e.cfg.RefreshMargin); ok {
		return tok, nil
	}

	v, err, _ := e.refreshs.Do(uid, func() (any, error) {
		if tok, ok := e.cfg.Session.Token(uid, e.cfg.Now(), e.cfg.RefreshMargin); ok {
			return tok, nil
		}

		return e.refresh(ctx, uid)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (e *Engine) refresh(ctx context.Context, uid string) (string, error) {
	encrypted, ok, err := e.cfg.Tokens.RefreshToken(ctx, uid)
	if err != nil {
		return "", err
	}

	if !ok {
		return "", fmt.Errorf("%w: no refresh token stored for %s", ErrReloginRequired, uid)
	}

	refreshToken, err := e.cfg.Cipher.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("sync: decrypting refresh token: %w", err)
	}

	refresher, err := e.cfg.NewRefresher()
	if err != nil {
		return "", err
	}

	sess, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrTokenRejected) {
			return "", fmt.Errorf("%w: %w", ErrReloginRequired, err)
		}

		return "", fmt.Errorf("sync: refreshing session: %w", err)
	}

	if sess.UID != "" && sess.UID != uid {
		return "", fmt.Errorf("%w: refresh returned uid %s for profile %s", ErrReloginRequired, sess.UID, uid)
	}

	// The old refresh token is invalid from here on; persist the new one
	// before using the session.
	rotated, err := e.cfg.Cipher.Encrypt(sess.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("sync: encrypting refresh token: %w", err)
	}

	if err := e.cfg.Tokens.SetRefreshToken(ctx, uid, rotated); err != nil {
		return "", err
	}

	e.cfg.Session.SetToken(uid, sess.IDToken, sess.ExpiresAt)

	e.logger.Info("refreshed session token",
		slog.String("uid", uid),
		slog.Time("expires_at", sess.ExpiresAt),
	)

	return sess.IDToken, nil
}
