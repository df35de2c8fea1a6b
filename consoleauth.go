// Package consoleauth gates an admin console on a bitmask of capabilities
// granted at login.
//
// A Client owns the session state, its durable storage and the login
// transport. Permission decisions go through Can, which consults the static
// access table in pkg/authz.
package consoleauth

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"

	oerrors "github.com/porthorian/consoleauth/pkg/errors"
	"github.com/porthorian/consoleauth/pkg/sanitize"
	"github.com/porthorian/consoleauth/pkg/session"
	"github.com/porthorian/consoleauth/pkg/storage"
	httptransport "github.com/porthorian/consoleauth/pkg/transport/http"
)

// Transport is the admin API the client logs in against.
type Transport interface {
	Login(ctx context.Context, credentials httptransport.Credentials) (session.LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
	Register(ctx context.Context, fields map[string]any) error
}

var _ Transport = (*httptransport.Client)(nil)

type Config struct {
	Logger logr.Logger
	// Storage overrides Runtime.Storage when set. The client never closes it.
	Storage   storage.KeyValueStore
	Transport Transport
	Sanitizer sanitize.Sanitizer
	// SkipPermissionPersistence keeps the mask out of Storage so that a
	// restored session starts with no capabilities.
	SkipPermissionPersistence bool
	Runtime                   RuntimeConfig
}

var usernameRules = sanitize.Rules{Required: true, MaxLength: 128, Message: "username is required"}

type Client struct {
	state     *session.State
	transport Transport
	sanitizer sanitize.Sanitizer
	logger    logr.Logger

	mu            sync.Mutex
	closeResource func() error
}

// New resolves storage and transport from config and restores any session
// left in storage. A malformed persisted mask does not fail New; the session
// comes back with a zero mask and the problem is logged.
func New(ctx context.Context, config Config) (*Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	closeResource, resolved, err := config.initialize(ctx)
	if err != nil {
		return nil, err
	}

	if resolved.Storage == nil {
		_ = closeResource()
		return nil, oerrors.ErrMissingStorage
	}

	state, err := session.NewState(resolved.Storage, session.Options{
		Logger:                    resolved.Logger,
		SkipPermissionPersistence: resolved.SkipPermissionPersistence,
	})
	if err != nil {
		_ = closeResource()
		return nil, err
	}

	if err := state.Restore(ctx); err != nil {
		if !oerrors.IsCode(err, oerrors.CodeMalformedPermissionValue) {
			_ = closeResource()
			return nil, err
		}
		resolved.Logger.Error(err, "discarded persisted permissions")
	}

	sanitizer := resolved.Sanitizer
	if sanitizer == nil {
		sanitizer = sanitize.NewPolicy()
	}

	return &Client{
		state:         state,
		transport:     resolved.Transport,
		sanitizer:     sanitizer,
		logger:        resolved.Logger,
		closeResource: closeResource,
	}, nil
}

// Login cleans username, authenticates against the transport and applies
// the result to the session.
func (c *Client) Login(ctx context.Context, username string, passwordHash string) error {
	if c == nil || c.transport == nil {
		return oerrors.ErrMissingTransport
	}

	username = c.sanitizer.CleanInput(username)
	if err := usernameRules.Validate(username); err != nil {
		return oerrors.Wrap(oerrors.CodeUnauthenticated, err.Error(), err)
	}

	result, err := c.transport.Login(ctx, httptransport.Credentials{
		Username:     username,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return err
	}

	if err := c.state.LoginSuccess(ctx, result); err != nil {
		return err
	}

	c.logger.Info("logged in", "username", username, "session_id", c.state.SessionID())
	return nil
}

// Logout notifies the transport and clears the local session regardless of
// the outcome. Transport and storage failures are returned together once
// local state is gone.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil || c.state == nil {
		return oerrors.ErrMissingStorage
	}

	var transportErr error
	if c.transport != nil {
		transportErr = c.transport.Logout(ctx, c.state.AccessToken())
		if transportErr != nil {
			c.logger.Info("remote logout failed", "error", transportErr.Error())
		}
	}

	return errors.Join(transportErr, c.state.Logout(ctx))
}

// Register cleans string fields and forwards them to the transport. A field
// that still carries an XSS vector after cleaning rejects the whole request.
func (c *Client) Register(ctx context.Context, fields map[string]any) error {
	if c == nil || c.transport == nil {
		return oerrors.ErrMissingTransport
	}

	cleaned := sanitize.CleanFields(c.sanitizer, fields)
	if err := sanitize.ValidateFields(c.sanitizer, cleaned); err != nil {
		return oerrors.Wrap(oerrors.CodeInvalidInput, "register: "+err.Error(), err)
	}
	return c.transport.Register(ctx, cleaned)
}

// Can reports whether the current session may use moduleID, or its item
// itemID when non-empty.
func (c *Client) Can(moduleID string, itemID string) (bool, error) {
	if c == nil || c.state == nil {
		return false, oerrors.ErrMissingStorage
	}
	return c.state.Can(moduleID, itemID)
}

func (c *Client) Session() *session.State {
	if c == nil {
		return nil
	}
	return c.state
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeResource == nil {
		return nil
	}
	err := c.closeResource()
	c.closeResource = nil
	if err != nil {
		return oerrors.Wrap(oerrors.CodeUnknown, "failed to close client resources", err)
	}
	return nil
}
