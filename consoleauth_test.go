package consoleauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	oerrors "github.com/porthorian/consoleauth/pkg/errors"
	"github.com/porthorian/consoleauth/pkg/session"
	"github.com/porthorian/consoleauth/pkg/storage"
	"github.com/porthorian/consoleauth/pkg/storage/memory"
	httptransport "github.com/porthorian/consoleauth/pkg/transport/http"
)

type fakeTransport struct {
	result    session.LoginResult
	loginErr  error
	logoutErr error

	username    string
	logoutToken string
	registered  map[string]any
}

func (f *fakeTransport) Login(_ context.Context, credentials httptransport.Credentials) (session.LoginResult, error) {
	f.username = credentials.Username
	if f.loginErr != nil {
		return session.LoginResult{}, f.loginErr
	}
	return f.result, nil
}

func (f *fakeTransport) Logout(_ context.Context, accessToken string) error {
	f.logoutToken = accessToken
	return f.logoutErr
}

func (f *fakeTransport) Register(_ context.Context, fields map[string]any) error {
	f.registered = fields
	return nil
}

func loginResult(permissions string) session.LoginResult {
	return session.LoginResult{
		Permissions:  session.PermissionValue(permissions),
		AccessToken:  "access",
		RefreshToken: "refresh",
	}
}

func TestClientLoginCanLogout(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{result: loginResult("34")}
	store := memory.NewAdapter()

	client, err := New(ctx, Config{Storage: store, Transport: transport})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	defer client.Close()

	if err := client.Login(ctx, "  <b>stock</b> ", "hash"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if transport.username != "stock" {
		t.Fatalf("expected sanitized username, got %q", transport.username)
	}
	if client.Session().Status() != session.StatusAuthenticated {
		t.Fatal("expected authenticated session")
	}

	allowed, err := client.Can("2", "2-1")
	if err != nil || !allowed {
		t.Fatalf("expected categories allowed, got %v %v", allowed, err)
	}
	allowed, err = client.Can("9", "")
	if allowed || !oerrors.IsCode(err, oerrors.CodeUnknownResource) {
		t.Fatalf("expected unknown module to fail closed, got %v %v", allowed, err)
	}

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if transport.logoutToken != "access" {
		t.Fatalf("expected logout to carry access token, got %q", transport.logoutToken)
	}
	if store.Len() != 0 {
		t.Fatalf("expected storage cleared, %d entries remain", store.Len())
	}
}

func TestClientLoginRejectsEmptyUsername(t *testing.T) {
	transport := &fakeTransport{result: loginResult("127")}
	client, err := New(context.Background(), Config{Transport: transport})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	err = client.Login(context.Background(), "<script></script>", "hash")
	if !oerrors.IsCode(err, oerrors.CodeUnauthenticated) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
	if transport.username != "" {
		t.Fatal("transport must not be called for an empty username")
	}
}

func TestClientLoginTransportFailureKeepsState(t *testing.T) {
	transport := &fakeTransport{loginErr: oerrors.New(oerrors.CodeTransportFailure, "invalid username or password")}
	client, err := New(context.Background(), Config{Transport: transport})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	err = client.Login(context.Background(), "root", "hash")
	if !oerrors.IsCode(err, oerrors.CodeTransportFailure) {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if client.Session().Status() != session.StatusUnauthenticated || client.Session().Mask() != 0 {
		t.Fatal("failed login must not change the session")
	}
}

func TestClientLogoutClearsOnTransportFailure(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{result: loginResult("127"), logoutErr: errors.New("connection refused")}
	client, err := New(ctx, Config{Transport: transport})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if err := client.Login(ctx, "root", "hash"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := client.Logout(ctx); err == nil {
		t.Fatal("expected transport error from logout")
	}
	if client.Session().AccessToken() != "" || client.Session().Mask() != 0 {
		t.Fatal("expected local session cleared despite transport failure")
	}
}

type removeFailingStore struct {
	*memory.Adapter
	fail bool
}

func (s *removeFailingStore) Remove(ctx context.Context, key string) error {
	if s.fail {
		return errors.New("storage offline")
	}
	return s.Adapter.Remove(ctx, key)
}

func TestClientLogoutReportsTransportAndStorageFailures(t *testing.T) {
	ctx := context.Background()
	remoteErr := errors.New("connection refused")
	transport := &fakeTransport{result: loginResult("127"), logoutErr: remoteErr}
	store := &removeFailingStore{Adapter: memory.NewAdapter()}

	client, err := New(ctx, Config{Transport: transport, Storage: store})
	require.NoError(t, err)
	require.NoError(t, client.Login(ctx, "root", "hash"))

	store.fail = true
	err = client.Logout(ctx)
	require.ErrorIs(t, err, remoteErr)
	require.True(t, oerrors.IsCode(err, oerrors.CodeStorageUnavailable), "got %v", err)
	require.Empty(t, client.Session().AccessToken())
}

func TestClientWithoutTransport(t *testing.T) {
	client, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	if err := client.Login(context.Background(), "root", "hash"); !errors.Is(err, oerrors.ErrMissingTransport) {
		t.Fatalf("expected ErrMissingTransport, got %v", err)
	}
	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("local logout should succeed without transport: %v", err)
	}
}

func TestClientRegisterCleansFields(t *testing.T) {
	transport := &fakeTransport{}
	client, err := New(context.Background(), Config{Transport: transport})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}

	err = client.Register(context.Background(), map[string]any{"username": " <i>new</i> ", "roles": 42})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if transport.registered["username"] != "new" || transport.registered["roles"] != 42 {
		t.Fatalf("unexpected registered fields %v", transport.registered)
	}
}

func TestClientRegisterRejectsUnsafeFields(t *testing.T) {
	transport := &fakeTransport{}
	client, err := New(context.Background(), Config{Transport: transport})
	require.NoError(t, err)

	err = client.Register(context.Background(), map[string]any{"username": "%3Cscript%3E"})
	require.True(t, oerrors.IsCode(err, oerrors.CodeInvalidInput), "got %v", err)
	require.Nil(t, transport.registered)
}

func TestClientRestoresFromFileStorage(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	runtime := RuntimeConfig{Storage: StorageConfig{
		Backend: StorageBackendFile,
		File:    FileStorageConfig{Path: "/var/lib/consoleauth/session.json", Fs: fs},
	}}

	first, err := New(ctx, Config{Transport: &fakeTransport{result: loginResult("96")}, Runtime: runtime})
	require.NoError(t, err)
	require.NoError(t, first.Login(ctx, "courier", "hash"))
	require.NoError(t, first.Close())

	second, err := New(ctx, Config{Runtime: runtime})
	require.NoError(t, err)
	defer second.Close()

	require.Equal(t, session.StatusAuthenticated, second.Session().Status())
	require.EqualValues(t, 96, second.Session().Mask())
	require.Equal(t, "refresh", second.Session().RefreshToken())
}

func TestClientSkipPermissionPersistence(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAdapter()

	first, err := New(ctx, Config{
		Storage:                   store,
		Transport:                 &fakeTransport{result: loginResult("127")},
		SkipPermissionPersistence: true,
	})
	require.NoError(t, err)
	require.NoError(t, first.Login(ctx, "root", "hash"))
	require.EqualValues(t, 127, first.Session().Mask())

	second, err := New(ctx, Config{Storage: store, SkipPermissionPersistence: true})
	require.NoError(t, err)
	require.Equal(t, "access", second.Session().AccessToken())
	require.EqualValues(t, 0, second.Session().Mask())

	allowed, err := second.Can("1", "1-1")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestClientToleratesMalformedPersistedMask(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAdapter()
	require.NoError(t, store.Set(ctx, storage.KeyToken, "access"))
	require.NoError(t, store.Set(ctx, storage.KeyPermissions, "abc"))

	client, err := New(ctx, Config{Storage: store})
	require.NoError(t, err)
	require.Equal(t, session.StatusAuthenticated, client.Session().Status())
	require.EqualValues(t, 0, client.Session().Mask())
}

func TestClientRedisBackend(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	client, err := New(ctx, Config{
		Transport: &fakeTransport{result: loginResult("42")},
		Runtime: RuntimeConfig{Storage: StorageConfig{
			Backend: StorageBackendRedis,
			Redis:   RedisStorageConfig{Address: server.Addr(), Namespace: "console"},
		}},
	})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Login(ctx, "general", "hash"))

	value, err := server.Get("console:permissions")
	require.NoError(t, err)
	require.Equal(t, "42", value)
}

func TestClientHTTPTransportFromRuntime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"permissions":  36,
			"accessToken":  "access",
			"refreshToken": "refresh",
		})
	}))
	defer server.Close()

	client, err := New(context.Background(), Config{
		Runtime: RuntimeConfig{Transport: TransportConfig{BaseURL: server.URL + httptransport.DefaultAPIPrefix}},
	})
	require.NoError(t, err)
	require.NoError(t, client.Login(context.Background(), "orders", "hash"))

	allowed, err := client.Can("3", "")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestNewRejectsBadStorageConfig(t *testing.T) {
	cases := map[string]StorageConfig{
		"none without store": {Backend: StorageBackendNone},
		"unsupported":        {Backend: "sqlite"},
		"file without path":  {Backend: StorageBackendFile},
		"redis without addr": {Backend: StorageBackendRedis},
		"postgres no dsn":    {Backend: StorageBackendPostgres},
	}

	for name, storageConfig := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(context.Background(), Config{Runtime: RuntimeConfig{Storage: storageConfig}})
			if err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}

	_, err := New(context.Background(), Config{Runtime: RuntimeConfig{Storage: StorageConfig{Backend: StorageBackendNone}}})
	if !errors.Is(err, oerrors.ErrMissingStorage) {
		t.Fatalf("expected ErrMissingStorage, got %v", err)
	}
}

func TestJoinClosersReverseOrder(t *testing.T) {
	var order []int
	closeAll := joinClosers(
		func() error { order = append(order, 1); return nil },
		nil,
		func() error { order = append(order, 2); return errors.New("boom") },
	)

	if err := closeAll(); err == nil {
		t.Fatal("expected joined error")
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected reverse close order, got %v", order)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}
