package steam

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// entryFlagDirectory marks manifest entries that describe a directory.
	entryFlagDirectory = 64

	// tokenRenewInterval is how often the event pump refreshes the
	// session access token.
	tokenRenewInterval = 5 * time.Minute
)

// webClient implements ContentClient against the web API gateway for session
// and directory calls, and against the content servers for manifest and
// chunk payloads.
type webClient struct {
	cfg  Config
	log  *zap.Logger
	http *http.Client

	// mu guards the token state: the event pump renews the access token
	// concurrently with API calls reading it.
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	appTokens    map[uint32]string
	anonymous    bool

	renew *time.Ticker
}

// NewClient creates a content client backed by the web API gateway.
func NewClient(cfg Config, log *zap.Logger) ContentClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &webClient{
		cfg: cfg,
		log: log,
		http: &http.Client{
			Transport: NewHTTPTransport(timeout),
			Timeout:   timeout,
		},
		appTokens: make(map[uint32]string),
	}
}

func (c *webClient) Connect(ctx context.Context) error {
	// A reachable server directory is the closest thing an HTTP session
	// has to an established connection.
	if _, err := c.ListServers(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.renew = time.NewTicker(tokenRenewInterval)
	return nil
}

func (c *webClient) LogOnAnonymous(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anonymous = true
	c.accessToken = ""
	return nil
}

func (c *webClient) LogOnWithToken(ctx context.Context, username, refreshToken string) error {
	var resp struct {
		Response struct {
			AccessToken string `json:"access_token"`
		} `json:"response"`
	}
	params := url.Values{}
	params.Set("refresh_token", refreshToken)
	if err := c.call(ctx, http.MethodPost, "IAuthenticationService", "GenerateAccessTokenForApp", 1, params, &resp); err != nil {
		return err
	}
	if resp.Response.AccessToken == "" {
		return fmt.Errorf("token logon for %s: %w", username, ErrAuthRejected)
	}
	c.mu.Lock()
	c.refreshToken = refreshToken
	c.accessToken = resp.Response.AccessToken
	c.anonymous = false
	c.mu.Unlock()
	return nil
}

func (c *webClient) BeginCredentialAuth(ctx context.Context, username, password, guardData string, auth Authenticator) (*Credentials, error) {
	encrypted, timestamp, err := c.encryptPassword(ctx, username, password)
	if err != nil {
		return nil, err
	}

	var begin struct {
		Response struct {
			ClientID             string `json:"client_id"`
			RequestID            string `json:"request_id"`
			SteamID              string `json:"steamid"`
			AllowedConfirmations []struct {
				ConfirmationType int    `json:"confirmation_type"`
				AssociatedEmail  string `json:"associated_message"`
			} `json:"allowed_confirmations"`
		} `json:"response"`
	}
	params := url.Values{}
	params.Set("account_name", username)
	params.Set("encrypted_password", encrypted)
	params.Set("encryption_timestamp", timestamp)
	if guardData != "" {
		params.Set("guard_data", guardData)
	}
	if err := c.call(ctx, http.MethodPost, "IAuthenticationService", "BeginAuthSessionViaCredentials", 1, params, &begin); err != nil {
		return nil, err
	}
	if begin.Response.ClientID == "" {
		return nil, fmt.Errorf("credential logon for %s: %w", username, ErrAuthRejected)
	}

	if err := c.submitGuardCode(ctx, begin.Response.ClientID, begin.Response.SteamID, begin.Response.AllowedConfirmations, auth); err != nil {
		return nil, err
	}

	creds, err := c.pollSession(ctx, begin.Response.ClientID, begin.Response.RequestID)
	if err != nil {
		return nil, err
	}
	creds.SteamID, _ = strconv.ParseUint(begin.Response.SteamID, 10, 64)

	c.mu.Lock()
	c.refreshToken = creds.RefreshToken
	c.anonymous = false
	c.mu.Unlock()
	return creds, c.LogOnWithToken(ctx, username, creds.RefreshToken)
}

// encryptPassword fetches the account RSA key and seals the password for
// transport.
func (c *webClient) encryptPassword(ctx context.Context, username, password string) (string, string, error) {
	var keyResp struct {
		Response struct {
			Mod       string `json:"publickey_mod"`
			Exp       string `json:"publickey_exp"`
			Timestamp string `json:"timestamp"`
		} `json:"response"`
	}
	params := url.Values{}
	params.Set("account_name", username)
	if err := c.call(ctx, http.MethodGet, "IAuthenticationService", "GetPasswordRSAPublicKey", 1, params, &keyResp); err != nil {
		return "", "", err
	}

	mod, ok := new(big.Int).SetString(keyResp.Response.Mod, 16)
	if !ok {
		return "", "", fmt.Errorf("bad RSA modulus: %w", ErrProtocol)
	}
	exp, err := strconv.ParseInt(keyResp.Response.Exp, 16, 64)
	if err != nil {
		return "", "", fmt.Errorf("bad RSA exponent: %w", ErrProtocol)
	}
	pub := &rsa.PublicKey{N: mod, E: int(exp)}
	sealed, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", "", fmt.Errorf("encrypt password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), keyResp.Response.Timestamp, nil
}

// submitGuardCode satisfies one second-factor confirmation, retrying once
// after a rejected code.
func (c *webClient) submitGuardCode(ctx context.Context, clientID, steamID string, confirmations []struct {
	ConfirmationType int    `json:"confirmation_type"`
	AssociatedEmail  string `json:"associated_message"`
}, auth Authenticator) error {
	for _, conf := range confirmations {
		var codeType int
		switch conf.ConfirmationType {
		case 2: // email code
			codeType = 2
		case 3: // device code
			codeType = 3
		default:
			continue
		}

		for attempt := 0; attempt < 2; attempt++ {
			var code string
			var err error
			if codeType == 2 {
				code, err = auth.EmailCode(conf.AssociatedEmail, attempt > 0)
			} else {
				code, err = auth.DeviceCode(attempt > 0)
			}
			if err != nil {
				return fmt.Errorf("guard code: %w", err)
			}

			params := url.Values{}
			params.Set("client_id", clientID)
			params.Set("steamid", steamID)
			params.Set("code", code)
			params.Set("code_type", strconv.Itoa(codeType))
			err = c.call(ctx, http.MethodPost, "IAuthenticationService", "UpdateAuthSessionWithSteamGuardCode", 1, params, &struct{}{})
			if err == nil {
				return nil
			}
			if attempt == 1 || !errors.Is(err, ErrAuthRejected) {
				return err
			}
		}
	}
	return nil
}

// pollSession waits for the auth session to complete and yields the refresh
// credentials.
func (c *webClient) pollSession(ctx context.Context, clientID, requestID string) (*Credentials, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		var poll struct {
			Response struct {
				RefreshToken string `json:"refresh_token"`
				NewGuardData string `json:"new_guard_data"`
			} `json:"response"`
		}
		params := url.Values{}
		params.Set("client_id", clientID)
		params.Set("request_id", requestID)
		if err := c.call(ctx, http.MethodPost, "IAuthenticationService", "PollAuthSessionStatus", 1, params, &poll); err != nil {
			return nil, err
		}
		if poll.Response.RefreshToken != "" {
			return &Credentials{
				RefreshToken: poll.Response.RefreshToken,
				GuardData:    poll.Response.NewGuardData,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("logon poll: %w", ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (c *webClient) LogOff() {
	if c.renew != nil {
		c.renew.Stop()
	}
	c.mu.Lock()
	c.accessToken = ""
	c.refreshToken = ""
	c.anonymous = false
	c.mu.Unlock()
}

func (c *webClient) PumpEvent(ctx context.Context) error {
	if c.renew == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.renew.C:
		c.mu.Lock()
		refresh := c.refreshToken
		c.mu.Unlock()
		if refresh == "" {
			return nil
		}
		if err := c.LogOnWithToken(ctx, "", refresh); err != nil {
			c.log.Warn("Access token renewal failed", zap.Error(err))
		}
		return nil
	}
}

func (c *webClient) ResolveManifestID(ctx context.Context, itemID uint64) (uint64, error) {
	var resp struct {
		Response struct {
			PublishedFileDetails []struct {
				Result       int    `json:"result"`
				HContentFile string `json:"hcontent_file"`
			} `json:"publishedfiledetails"`
		} `json:"response"`
	}
	params := url.Values{}
	params.Set("publishedfileids[0]", strconv.FormatUint(itemID, 10))
	if err := c.call(ctx, http.MethodGet, "IPublishedFileService", "GetDetails", 1, params, &resp); err != nil {
		return 0, err
	}
	details := resp.Response.PublishedFileDetails
	if len(details) == 0 || details[0].Result != 1 {
		return 0, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	manifestID, err := strconv.ParseUint(details[0].HContentFile, 10, 64)
	if err != nil || manifestID == 0 {
		return 0, fmt.Errorf("item %d has no content manifest: %w", itemID, ErrNotFound)
	}
	return manifestID, nil
}

func (c *webClient) ResolveDepotID(ctx context.Context, appID uint32) (uint32, error) {
	var resp struct {
		Response struct {
			EResult int    `json:"eresult"`
			DepotID uint32 `json:"depotid"`
		} `json:"response"`
	}
	params := url.Values{}
	params.Set("appid", strconv.FormatUint(uint64(appID), 10))
	c.mu.Lock()
	token := c.appTokens[appID]
	c.mu.Unlock()
	if token != "" {
		params.Set("app_access_token", token)
	}
	if err := c.call(ctx, http.MethodGet, "IContentServerDirectory", "GetWorkshopDepot", 1, params, &resp); err != nil {
		return 0, err
	}
	switch {
	case resp.Response.EResult == 15: // access denied: entitlement token required
		return 0, fmt.Errorf("app %d: %w", appID, ErrMissingToken)
	case resp.Response.DepotID == 0:
		return 0, fmt.Errorf("app %d workshop depot: %w", appID, ErrNotFound)
	}
	return resp.Response.DepotID, nil
}

func (c *webClient) RequestAccessToken(ctx context.Context, appID uint32) error {
	var resp struct {
		Response struct {
			AppAccessToken string `json:"app_access_token"`
		} `json:"response"`
	}
	params := url.Values{}
	params.Set("appid", strconv.FormatUint(uint64(appID), 10))
	if err := c.call(ctx, http.MethodPost, "IContentServerDirectory", "GetAppAccessToken", 1, params, &resp); err != nil {
		return err
	}
	if resp.Response.AppAccessToken == "" {
		return fmt.Errorf("app %d access token: %w", appID, ErrNotFound)
	}
	c.mu.Lock()
	c.appTokens[appID] = resp.Response.AppAccessToken
	c.mu.Unlock()
	return nil
}

func (c *webClient) GetDepotKey(ctx context.Context, depotID, appID uint32) ([]byte, error) {
	var resp struct {
		Response struct {
			DepotKey string `json:"depot_key"`
		} `json:"response"`
	}
	params := url.Values{}
	params.Set("depotid", strconv.FormatUint(uint64(depotID), 10))
	params.Set("appid", strconv.FormatUint(uint64(appID), 10))
	if err := c.call(ctx, http.MethodGet, "IContentServerDirectory", "GetDepotDecryptionKey", 1, params, &resp); err != nil {
		return nil, err
	}
	if resp.Response.DepotKey == "" {
		return nil, fmt.Errorf("depot %d key: %w", depotID, ErrNotFound)
	}
	key, err := hex.DecodeString(resp.Response.DepotKey)
	if err != nil {
		return nil, fmt.Errorf("depot %d key encoding: %w", depotID, ErrProtocol)
	}
	return key, nil
}

func (c *webClient) ListServers(ctx context.Context) ([]Endpoint, error) {
	var resp struct {
		Response struct {
			Servers []struct {
				Host         string `json:"host"`
				VHost        string `json:"vhost"`
				Port         int    `json:"port"`
				HTTPSSupport string `json:"https_support"`
			} `json:"servers"`
		} `json:"response"`
	}
	params := url.Values{}
	params.Set("cell_id", strconv.FormatUint(uint64(c.cfg.CellID), 10))
	if err := c.call(ctx, http.MethodGet, "IContentServerDirectory", "GetServersForSteamPipe", 1, params, &resp); err != nil {
		return nil, err
	}
	endpoints := make([]Endpoint, 0, len(resp.Response.Servers))
	for _, s := range resp.Response.Servers {
		endpoints = append(endpoints, Endpoint{
			Host:  s.Host,
			VHost: s.VHost,
			Port:  s.Port,
			HTTPS: s.HTTPSSupport == "mandatory" || s.HTTPSSupport == "optional",
		})
	}
	return endpoints, nil
}

func (c *webClient) GetCDNAuthToken(ctx context.Context, appID, depotID uint32, server Endpoint) (string, error) {
	var resp struct {
		Response struct {
			Token string `json:"token"`
		} `json:"response"`
	}
	params := url.Values{}
	params.Set("appid", strconv.FormatUint(uint64(appID), 10))
	params.Set("depotid", strconv.FormatUint(uint64(depotID), 10))
	params.Set("host_name", server.Host)
	if err := c.call(ctx, http.MethodGet, "IContentServerDirectory", "GetCDNAuthToken", 1, params, &resp); err != nil {
		return "", err
	}
	return resp.Response.Token, nil
}

func (c *webClient) GetManifestRequestCode(ctx context.Context, depotID, appID uint32, manifestID uint64) (uint64, error) {
	var resp struct {
		Response struct {
			ManifestRequestCode uint64 `json:"manifest_request_code"`
		} `json:"response"`
	}
	params := url.Values{}
	params.Set("depotid", strconv.FormatUint(uint64(depotID), 10))
	params.Set("appid", strconv.FormatUint(uint64(appID), 10))
	params.Set("manifestid", strconv.FormatUint(manifestID, 10))
	if err := c.call(ctx, http.MethodPost, "IContentServerDirectory", "GetManifestRequestCode", 1, params, &resp); err != nil {
		return 0, err
	}
	return resp.Response.ManifestRequestCode, nil
}

func (c *webClient) DownloadManifest(ctx context.Context, depotID uint32, manifestID, requestCode uint64, server Endpoint, key []byte, cdnToken string) (*Manifest, error) {
	path := fmt.Sprintf("/depot/%d/manifest/%d/5/%d", depotID, manifestID, requestCode)
	body, err := c.fetchContent(ctx, server, path, cdnToken)
	if err != nil {
		return nil, err
	}
	manifest, err := parseManifest(body, key)
	if err != nil {
		return nil, fmt.Errorf("manifest %d: %w", manifestID, err)
	}
	manifest.DepotID = depotID
	manifest.ManifestID = manifestID
	return manifest, nil
}

func (c *webClient) DownloadChunk(ctx context.Context, depotID uint32, chunk ChunkRef, server Endpoint, key []byte, cdnToken string) ([]byte, error) {
	path := fmt.Sprintf("/depot/%d/chunk/%s", depotID, hex.EncodeToString(chunk.ID))
	body, err := c.fetchContent(ctx, server, path, cdnToken)
	if err != nil {
		return nil, err
	}
	data, err := decodeChunk(body, key)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", hex.EncodeToString(chunk.ID), err)
	}
	return data, nil
}

// fetchContent performs one GET against a content server.
func (c *webClient) fetchContent(ctx context.Context, server Endpoint, path, cdnToken string) ([]byte, error) {
	scheme := "http"
	if server.HTTPS {
		scheme = "https"
	}
	host := server.Host
	if server.Port > 0 {
		host = fmt.Sprintf("%s:%d", server.Host, server.Port)
	}
	u := scheme + "://" + host + path
	if cdnToken != "" {
		u += "?" + cdnToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if server.VHost != "" {
		req.Host = server.VHost
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s: %w", path, ErrAuthRejected)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: status %d: %w", path, resp.StatusCode, ErrProtocol)
	}
	return io.ReadAll(resp.Body)
}

// call performs one web API gateway request and decodes the JSON response.
func (c *webClient) call(ctx context.Context, method, iface, name string, version int, params url.Values, out any) error {
	c.mu.Lock()
	if c.accessToken != "" {
		params.Set("access_token", c.accessToken)
	}
	c.mu.Unlock()
	endpoint := fmt.Sprintf("%s/%s/%s/v%d/", c.cfg.APIBase, iface, name, version)

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s/%s: %w", iface, name, ErrAuthRejected)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s/%s: %w", iface, name, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s/%s: status %d: %w", iface, name, resp.StatusCode, ErrProtocol)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s/%s: decode: %w", iface, name, ErrProtocol)
	}
	return nil
}

func classifyTransportErr(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	return err
}

// wireManifest is the serialized manifest payload shape.
type wireManifest struct {
	Files []struct {
		Filename string `json:"filename"`
		Size     uint64 `json:"size"`
		Flags    uint32 `json:"flags"`
		Hash     string `json:"sha_content"`
		Chunks   []struct {
			ID     string `json:"sha"`
			Offset uint64 `json:"offset"`
			Size   uint64 `json:"cb_original"`
		} `json:"chunks"`
	} `json:"files"`
}

// parseManifest decodes a manifest payload, decompressing it and decrypting
// file names when the depot key is present.
func parseManifest(body, key []byte) (*Manifest, error) {
	data, err := maybeInflate(body)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", ErrProtocol)
	}

	var wire wireManifest
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode: %w", ErrProtocol)
	}

	manifest := &Manifest{Entries: make([]ManifestEntry, 0, len(wire.Files))}
	for _, f := range wire.Files {
		name := f.Filename
		if key != nil {
			name, err = decryptFileName(name, key)
			if err != nil {
				return nil, fmt.Errorf("decrypt name: %w", ErrProtocol)
			}
		}

		entry := ManifestEntry{
			Path:        strings.ReplaceAll(name, "\\", "/"),
			IsDirectory: f.Flags&entryFlagDirectory != 0,
			Size:        f.Size,
		}
		if f.Hash != "" {
			if entry.Hash, err = hex.DecodeString(f.Hash); err != nil {
				return nil, fmt.Errorf("file hash encoding: %w", ErrProtocol)
			}
		}
		for _, ch := range f.Chunks {
			id, err := hex.DecodeString(ch.ID)
			if err != nil {
				return nil, fmt.Errorf("chunk id encoding: %w", ErrProtocol)
			}
			entry.Chunks = append(entry.Chunks, ChunkRef{
				ID:               id,
				Offset:           ch.Offset,
				UncompressedSize: ch.Size,
			})
		}
		manifest.Entries = append(manifest.Entries, entry)
	}
	return manifest, nil
}

// decryptFileName reverses the per-name ECB encryption used by encrypted
// depots.
func decryptFileName(name string, key []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(name)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	if len(raw)%aes.BlockSize != 0 {
		return "", errors.New("name length not block-aligned")
	}
	for i := 0; i < len(raw); i += aes.BlockSize {
		block.Decrypt(raw[i:i+aes.BlockSize], raw[i:i+aes.BlockSize])
	}
	return string(stripPadding(raw)), nil
}

// decodeChunk decrypts and decompresses one chunk payload. The first block
// is the ECB-sealed IV; the remainder is CBC ciphertext.
func decodeChunk(body, key []byte) ([]byte, error) {
	if key == nil {
		return maybeInflate(body)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(body) < aes.BlockSize || (len(body)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext not block-aligned")
	}

	iv := make([]byte, aes.BlockSize)
	block.Decrypt(iv, body[:aes.BlockSize])

	plain := make([]byte, len(body)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body[aes.BlockSize:])
	return maybeInflate(stripPadding(plain))
}

// maybeInflate decompresses zlib-framed payloads and passes raw payloads
// through untouched.
func maybeInflate(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x78 {
		return data, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func stripPadding(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	pad := int(data[len(data)-1])
	if pad > 0 && pad <= aes.BlockSize && pad <= len(data) {
		return data[:len(data)-pad]
	}
	return data
}
