package main

import (
	"context"
	"fmt"
	"io"
)

func authCommand(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	if a.config.General.Provider == providerCalDAV {
		if !a.engine.IsAuthenticated() {
			return fmt.Errorf("%w: %s", ErrUnauthenticated, a.authHint())
		}
		fmt.Fprintln(out, "✅ CalDAV uses the username and password from the config file")
		return nil
	}

	oauthConfig := newOAuthConfig(a.config)
	if err := checkOAuthConfig(oauthConfig); err != nil {
		return err
	}

	fmt.Fprintln(out, "🚀 Connecting Google Calendar...")
	token, err := getTokenFromWeb(ctx, oauthConfig, in, out)
	if err != nil {
		return err
	}

	if err := a.engine.Authenticate(token.AccessToken); err != nil {
		return fmt.Errorf("error saving credential: %w", err)
	}

	fmt.Fprintln(out, "✅ Google Calendar connected successfully")
	return nil
}
