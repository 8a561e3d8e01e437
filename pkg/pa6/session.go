package pa6

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
)

// Login opens a server session.
//
// With username credentials the server answers with a "sid" cookie that the
// client's cookie jar sends on every later request, uploads included. With
// an API token there is no login endpoint to call; Login checks the token by
// fetching server/info.
func (c *Client) Login(ctx context.Context) error {
	if c.creds.Token != "" {
		if _, err := c.ServerInfo(ctx); err != nil {
			return fmt.Errorf("pa6: verifying API token: %w", err)
		}

		c.logger.Info("authenticated with API token", slog.String("url", c.apiURL))

		return nil
	}

	query := map[string]string{
		"uname": c.creds.Username,
		"pwd":   c.creds.Password,
	}

	if c.creds.LDAPServer != "" {
		query["useLDAP"] = "1"
		query["svr"] = c.creds.LDAPServer
	}

	resp, err := c.post(ctx, "login", query, nil, nil)
	if err != nil {
		return fmt.Errorf("pa6: login as %q: %w", c.creds.Username, err)
	}

	var sid string

	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie {
			sid = ck.Value
		}
	}

	if sid == "" {
		return fmt.Errorf("%w: login response carried no %s cookie", ErrMalformedResponse, sessionCookie)
	}

	c.mu.Lock()
	c.sid = sid
	c.mu.Unlock()

	c.logger.Info("logged in",
		slog.String("url", c.apiURL),
		slog.String("username", c.creds.Username),
		slog.Bool("ldap", c.creds.LDAPServer != ""),
	)

	return nil
}

// Logout closes the server session and drops local cookies. A session the
// server already forgot, or a server without a logout endpoint, is not an
// error.
func (c *Client) Logout(ctx context.Context) error {
	if c.creds.Token == "" {
		_, err := c.post(ctx, "logout", nil, nil, nil)
		if err != nil && !errors.Is(err, ErrNotLoggedIn) && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("pa6: logout: %w", err)
		}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("pa6: resetting cookie jar: %w", err)
	}

	c.http.SetCookieJar(jar)

	c.mu.Lock()
	c.sid = ""
	c.mu.Unlock()

	c.logger.Info("logged out", slog.String("url", c.apiURL))

	return nil
}

// SessionID returns the current session cookie value, or "" when logged out
// or using token auth.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.sid
}

// sessionHeader is sent on endpoints that older servers authenticate by
// header rather than cookie.
func (c *Client) sessionHeader() map[string]string {
	sid := c.SessionID()
	if sid == "" {
		return nil
	}

	return map[string]string{sessionCookie: sid}
}

// statusOK reports whether code is a success code for the API.
func statusOK(code int) bool {
	return code == http.StatusOK || code == http.StatusAccepted
}
