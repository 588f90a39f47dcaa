package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Login runs the browser sign-in flow end to end.
type Login struct {
	Provider  *Provider
	Federated *Federated
	Manager   *Manager

	// OpenURL launches the system browser. When it fails the URL is
	// printed to stderr instead.
	OpenURL func(string) error
	Logger  *slog.Logger
}

// Run performs the flow:
//  1. Binds the loopback listener on an ephemeral port
//  2. Opens the authorization URL in the browser
//  3. Waits for the redirect carrying the state of this attempt
//  4. Exchanges the code and PKCE verifier for provider tokens
//  5. Exchanges the provider identity token for a Firebase session
//
// Any failure clears the pending request.
func (l *Login) Run(ctx context.Context) (Session, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("starting browser sign-in (authorization code + PKCE)")

	cs, err := startCallbackServer(ctx, l.Manager, logger)
	if err != nil {
		return Session{}, err
	}

	defer cs.shutdown()

	req, err := l.Manager.Begin(cs.RedirectURI())
	if err != nil {
		return Session{}, err
	}

	sess, err := l.complete(ctx, cs, req, logger)
	if err != nil {
		l.Manager.Abandon()
		logger.Warn("sign-in failed", slog.String("error", err.Error()))

		return Session{}, err
	}

	return sess, nil
}

func (l *Login) complete(ctx context.Context, cs *callbackServer, req *PendingAuthRequest, logger *slog.Logger) (Session, error) {
	launchBrowser(l.Provider.AuthorizeURL(req), l.OpenURL, logger)

	var res CallbackResult

	select {
	case res = <-cs.resultCh:
	case <-ctx.Done():
		return Session{}, fmt.Errorf("identity: browser sign-in canceled: %w", ctx.Err())
	}

	if res.Outcome == OutcomeProviderError {
		return Session{}, fmt.Errorf("identity: authorization failed: %s", res.ProviderError)
	}

	logger.Info("received authorization code, exchanging for tokens")

	tokens, err := l.Provider.Exchange(ctx, res.Request, res.Code)
	if err != nil {
		return Session{}, err
	}

	return l.Federated.SignInWithIdp(ctx, tokens.IDToken)
}

// launchBrowser attempts to open the auth URL. If it fails, prints the URL
// to stderr so the user can copy-paste it.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openURL == nil {
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
		return
	}

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}
