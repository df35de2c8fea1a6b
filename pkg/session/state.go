package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/porthorian/consoleauth/pkg/authz"
	oerrors "github.com/porthorian/consoleauth/pkg/errors"
	"github.com/porthorian/consoleauth/pkg/storage"
)

type Options struct {
	Logger logr.Logger
	// SkipPermissionPersistence keeps the mask in memory only, so a restore
	// after a reload yields the tokens with a zero mask.
	SkipPermissionPersistence bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Snapshot is a consistent copy of the session at one point in time.
type Snapshot struct {
	Status          Status
	Mask            authz.Mask
	AccessToken     string
	RefreshToken    string
	SessionID       string
	AuthenticatedAt time.Time
}

// State holds the current console user's permission mask and tokens. It is
// built once per console and passed to whatever needs a permission decision.
// All methods are safe for concurrent use; LoginSuccess, Logout and Restore
// are serialized and readers never observe a half-applied transition.
type State struct {
	store       storage.KeyValueStore
	logger      logr.Logger
	persistMask bool
	now         func() time.Time

	mu      sync.RWMutex
	current Snapshot
}

func NewState(store storage.KeyValueStore, options Options) (*State, error) {
	if store == nil {
		return nil, oerrors.ErrMissingStorage
	}

	logger := options.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &State{
		store:       store,
		logger:      logger.WithName("session"),
		persistMask: !options.SkipPermissionPersistence,
		now:         now,
	}, nil
}

// LoginSuccess moves the session to Authenticated. The mask is parsed
// before anything is written. On failure the in-memory session is kept;
// durable state is either untouched (batching stores) or cleared, never a
// mix of the new tokens and the previous mask.
func (s *State) LoginSuccess(ctx context.Context, result LoginResult) error {
	mask, err := result.Permissions.Mask()
	if err != nil {
		return err
	}
	if result.AccessToken == "" {
		return oerrors.New(oerrors.CodeUnauthenticated, "session: login result carried no access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = storage.Batch(ctx, s.store, func(store storage.KeyValueStore) error {
		// The previous mask goes first so it can never outlive a partial write.
		if err := store.Remove(ctx, storage.KeyPermissions); err != nil {
			return err
		}
		if err := store.Set(ctx, storage.KeyToken, result.AccessToken); err != nil {
			return err
		}
		if err := store.Set(ctx, storage.KeyRefreshToken, result.RefreshToken); err != nil {
			return err
		}
		if s.persistMask {
			return store.Set(ctx, storage.KeyPermissions, string(PermissionValueFromMask(mask)))
		}
		return nil
	})
	if err != nil {
		if _, batched := s.store.(storage.Batcher); !batched {
			s.discardPersistedLocked(ctx)
		}
		return oerrors.Wrap(oerrors.CodeStorageUnavailable, "session: failed to persist login", err)
	}

	s.current = Snapshot{
		Status:          StatusAuthenticated,
		Mask:            mask,
		AccessToken:     result.AccessToken,
		RefreshToken:    result.RefreshToken,
		SessionID:       uuid.NewString(),
		AuthenticatedAt: s.now(),
	}
	s.logger.V(1).Info("login applied", "session_id", s.current.SessionID, "permissions", uint64(mask), "capabilities", mask.String())
	return nil
}

// Logout always clears the in-memory session. A storage failure is returned
// after the fact; the process is unauthenticated either way.
func (s *State) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := s.current.SessionID
	s.current = Snapshot{}

	err := storage.Batch(ctx, s.store, func(store storage.KeyValueStore) error {
		var errs []error
		for _, key := range []string{storage.KeyToken, storage.KeyRefreshToken, storage.KeyPermissions} {
			if err := store.Remove(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	s.logger.V(1).Info("logout applied", "session_id", sessionID)
	if err != nil {
		return oerrors.Wrap(oerrors.CodeStorageUnavailable, "session: failed to remove persisted credentials", err)
	}
	return nil
}

// discardPersistedLocked removes every session key, logging failures.
func (s *State) discardPersistedLocked(ctx context.Context) {
	for _, key := range []string{storage.KeyPermissions, storage.KeyToken, storage.KeyRefreshToken} {
		if err := s.store.Remove(ctx, key); err != nil {
			s.logger.Error(err, "failed to discard persisted session key", "key", key)
		}
	}
}

// Restore rebuilds the session from durable storage, as on process start.
// Without a stored access token the session is Unauthenticated. A stored
// mask that does not parse leaves the mask at zero and is reported as
// CodeMalformedPermissionValue; the tokens are still restored.
func (s *State) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, _, err := s.store.Get(ctx, storage.KeyToken)
	if err != nil {
		return oerrors.Wrap(oerrors.CodeStorageUnavailable, "session: failed to read access token", err)
	}
	refresh, _, err := s.store.Get(ctx, storage.KeyRefreshToken)
	if err != nil {
		return oerrors.Wrap(oerrors.CodeStorageUnavailable, "session: failed to read refresh token", err)
	}

	if token == "" {
		s.current = Snapshot{}
		s.logger.V(1).Info("no persisted session")
		return nil
	}

	restored := Snapshot{
		Status:       StatusAuthenticated,
		AccessToken:  token,
		RefreshToken: refresh,
		SessionID:    uuid.NewString(),
	}

	var maskErr error
	if s.persistMask {
		raw, ok, err := s.store.Get(ctx, storage.KeyPermissions)
		if err != nil {
			return oerrors.Wrap(oerrors.CodeStorageUnavailable, "session: failed to read permissions", err)
		}
		if ok {
			mask, err := PermissionValue(raw).Mask()
			if err != nil {
				maskErr = err
			} else {
				restored.Mask = mask
			}
		}
	}

	s.current = restored
	s.logger.V(1).Info("session restored", "session_id", restored.SessionID, "permissions", uint64(restored.Mask))
	return maskErr
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *State) Status() Status {
	return s.Snapshot().Status
}

func (s *State) Mask() authz.Mask {
	return s.Snapshot().Mask
}

func (s *State) AccessToken() string {
	return s.Snapshot().AccessToken
}

func (s *State) RefreshToken() string {
	return s.Snapshot().RefreshToken
}

func (s *State) SessionID() string {
	return s.Snapshot().SessionID
}

// Can reports whether the current user may use moduleID, or its item
// itemID when non-empty. Unknown ids deny and return the lookup error.
func (s *State) Can(moduleID string, itemID string) (bool, error) {
	return authz.Allowed(s.Mask(), moduleID, itemID)
}

func (s *State) VisibleModules() []authz.Module {
	return authz.VisibleModules(s.Mask())
}
