package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"workshop-sync/core/steam"
)

// Client is a mock implementation of steam.ContentClient
type Client struct {
	mock.Mock
}

func (m *Client) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Client) LogOnAnonymous(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Client) LogOnWithToken(ctx context.Context, username, refreshToken string) error {
	args := m.Called(ctx, username, refreshToken)
	return args.Error(0)
}

func (m *Client) BeginCredentialAuth(ctx context.Context, username, password, guardData string, auth steam.Authenticator) (*steam.Credentials, error) {
	args := m.Called(ctx, username, password, guardData, auth)
	if creds, ok := args.Get(0).(*steam.Credentials); ok {
		return creds, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Client) LogOff() {
	m.Called()
}

func (m *Client) PumpEvent(ctx context.Context) error {
	args := m.Called(ctx)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	// Block like a real pump so the loop does not spin.
	<-ctx.Done()
	return ctx.Err()
}

func (m *Client) ResolveManifestID(ctx context.Context, itemID uint64) (uint64, error) {
	args := m.Called(ctx, itemID)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *Client) ResolveDepotID(ctx context.Context, appID uint32) (uint32, error) {
	args := m.Called(ctx, appID)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *Client) RequestAccessToken(ctx context.Context, appID uint32) error {
	args := m.Called(ctx, appID)
	return args.Error(0)
}

func (m *Client) GetDepotKey(ctx context.Context, depotID, appID uint32) ([]byte, error) {
	args := m.Called(ctx, depotID, appID)
	if key, ok := args.Get(0).([]byte); ok {
		return key, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Client) ListServers(ctx context.Context) ([]steam.Endpoint, error) {
	args := m.Called(ctx)
	if servers, ok := args.Get(0).([]steam.Endpoint); ok {
		return servers, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Client) GetCDNAuthToken(ctx context.Context, appID, depotID uint32, server steam.Endpoint) (string, error) {
	args := m.Called(ctx, appID, depotID, server)
	return args.String(0), args.Error(1)
}

func (m *Client) GetManifestRequestCode(ctx context.Context, depotID, appID uint32, manifestID uint64) (uint64, error) {
	args := m.Called(ctx, depotID, appID, manifestID)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *Client) DownloadManifest(ctx context.Context, depotID uint32, manifestID, requestCode uint64, server steam.Endpoint, key []byte, cdnToken string) (*steam.Manifest, error) {
	args := m.Called(ctx, depotID, manifestID, requestCode, server, key, cdnToken)
	if manifest, ok := args.Get(0).(*steam.Manifest); ok {
		return manifest, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Client) DownloadChunk(ctx context.Context, depotID uint32, chunk steam.ChunkRef, server steam.Endpoint, key []byte, cdnToken string) ([]byte, error) {
	args := m.Called(ctx, depotID, chunk, server, key, cdnToken)
	if data, ok := args.Get(0).([]byte); ok {
		return data, args.Error(1)
	}
	return nil, args.Error(1)
}
