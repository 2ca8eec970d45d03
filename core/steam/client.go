package steam

import (
	"context"
	"net"
	"net/http"
	"time"
)

// ContentClient is the surface of the Steam content delivery service the
// sync engine depends on. Implementations own the wire protocol; the engine
// only ever sees manifests, keys and decoded chunk bytes.
type ContentClient interface {
	// Connect establishes the network session.
	Connect(ctx context.Context) error

	// LogOnAnonymous authenticates as an anonymous user.
	LogOnAnonymous(ctx context.Context) error

	// LogOnWithToken authenticates silently with a cached refresh token.
	// A revoked or expired token fails with ErrAuthRejected.
	LogOnWithToken(ctx context.Context, username, refreshToken string) error

	// BeginCredentialAuth performs an interactive credential logon,
	// consulting auth for second-factor codes, and returns the refresh
	// credentials to persist for later runs.
	BeginCredentialAuth(ctx context.Context, username, password, guardData string, auth Authenticator) (*Credentials, error)

	// LogOff tears down the session. Safe to call regardless of logon state.
	LogOff()

	// PumpEvent handles the next pending session event, blocking until one
	// arrives or ctx is done. The session drains events in a background
	// task for the lifetime of the connection.
	PumpEvent(ctx context.Context) error

	// ResolveManifestID maps a workshop item to the manifest id of its
	// current content.
	ResolveManifestID(ctx context.Context, itemID uint64) (uint64, error)

	// ResolveDepotID maps an app to the depot hosting its workshop
	// content. Fails with ErrMissingToken when the app requires an access
	// token the session has not presented yet.
	ResolveDepotID(ctx context.Context, appID uint32) (uint32, error)

	// RequestAccessToken obtains an app access token for a subsequent
	// ResolveDepotID retry.
	RequestAccessToken(ctx context.Context, appID uint32) error

	// GetDepotKey returns the depot decryption key.
	GetDepotKey(ctx context.Context, depotID, appID uint32) ([]byte, error)

	// ListServers returns the content servers currently offered.
	ListServers(ctx context.Context) ([]Endpoint, error)

	// GetCDNAuthToken returns a short-lived token for the given server, or
	// an empty string when the depot does not require one.
	GetCDNAuthToken(ctx context.Context, appID, depotID uint32, server Endpoint) (string, error)

	// GetManifestRequestCode returns the request code authorizing a
	// manifest download. Public depots may report code 0.
	GetManifestRequestCode(ctx context.Context, depotID, appID uint32, manifestID uint64) (uint64, error)

	// DownloadManifest fetches and decodes the manifest for one depot
	// version, decrypting file names with key when the depot is encrypted.
	DownloadManifest(ctx context.Context, depotID uint32, manifestID, requestCode uint64, server Endpoint, key []byte, cdnToken string) (*Manifest, error)

	// DownloadChunk fetches one chunk and returns the decoded bytes.
	DownloadChunk(ctx context.Context, depotID uint32, chunk ChunkRef, server Endpoint, key []byte, cdnToken string) ([]byte, error)
}

// Config holds configuration for the content client.
type Config struct {
	// APIBase is the web API gateway used for session and directory calls.
	APIBase string `mapstructure:"api_base" default:"https://api.steampowered.com"`
	// CellID selects the preferred content region. Zero lets the
	// directory choose.
	CellID uint32 `mapstructure:"cell_id" default:"0"`
	// TimeoutSeconds bounds every network round-trip.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
}

// NewHTTPTransport builds an HTTP transport with strict per-phase timeouts.
// Every content client round-trip is bounded; a slow server surfaces as a
// timeout for that one call rather than a hung run.
func NewHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
}
