// Teleterm
// Copyright (C) 2025  Teleterm Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"

	"github.com/gravitational/trace"

	"github.com/teleterm/teleterm/lib/defaults"
	"github.com/teleterm/teleterm/lib/oauth"
	"github.com/teleterm/teleterm/lib/protocol"
)

const oauthSuccessPage = "authenticated successfully! now close this page and return to your terminal."

// openBrowserFn is swapped out in tests to play the user's browser.
var openBrowserFn = openBrowser

type oauthRedirect struct {
	code string
	err  error
}

// runOauthFlow drives the interactive half of an OAuth login: open the
// authorize URL in a browser, run a one-shot HTTP listener on the
// registered redirect address, check the CSRF state on the redirect, and
// return the authorization code for the relay to exchange.
func runOauthFlow(ctx context.Context, cfg Config, req *protocol.OauthCliRequest) (string, error) {
	wantState, err := oauth.ParseState(req.URL)
	if err != nil {
		return "", trace.Wrap(err)
	}

	// The listener must be up before the user can complete the provider
	// dialog, so bind first and open the browser after.
	listener, err := net.Listen("tcp", defaults.OauthListenAddr)
	if err != nil {
		return "", trace.Wrap(err, "binding oauth redirect listener %v", defaults.OauthListenAddr)
	}
	defer listener.Close()

	redirectCh := make(chan oauthRedirect, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("state") != wantState {
			http.Error(w, "invalid state", http.StatusBadRequest)
			redirectCh <- oauthRedirect{err: trace.AccessDenied("oauth state mismatch")}
			return
		}
		code := query.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			redirectCh <- oauthRedirect{err: trace.BadParameter("redirect carries no authorization code")}
			return
		}
		fmt.Fprint(w, oauthSuccessPage)
		redirectCh <- oauthRedirect{code: code}
	})}
	go srv.Serve(listener)
	defer srv.Close()

	openBrowserFn(ctx, cfg, req.URL)

	select {
	case redirect := <-redirectCh:
		if redirect.err != nil {
			return "", trace.Wrap(redirect.err)
		}
		return redirect.code, nil
	case <-ctx.Done():
		return "", trace.Wrap(ctx.Err())
	}
}

// openBrowser makes a best effort at opening url in the user's browser and
// always prints it, so a headless or remote session can follow it by hand.
func openBrowser(ctx context.Context, cfg Config, url string) {
	fmt.Fprintf(os.Stderr, "Opening %s\r\n", url)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		cfg.Logger.DebugContext(ctx, "Failed to open browser", "error", err)
	}
}
