package workshop

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"encoding/json"

	"workshop-sync/core/steam"
)

// maxBatchSize is the largest number of item ids one details call accepts.
const maxBatchSize = 100

// Details is the resolved metadata for one workshop item.
type Details struct {
	// ID is the published file id.
	ID uint64

	// Result is the service result code; 1 means success.
	Result int

	// Title is the display title of the item.
	Title string

	// ContentHandle is the manifest id of the item's current content.
	ContentHandle uint64

	// ConsumerAppID is the app whose depot hosts the content.
	ConsumerAppID uint32
}

// OK reports whether the item resolved successfully and carries content.
func (d Details) OK() bool {
	return d.Result == 1 && d.ContentHandle != 0
}

// Resolver resolves workshop item metadata. Implementations accept up to
// 100 ids per call.
type Resolver interface {
	Resolve(ctx context.Context, ids []uint64) ([]Details, error)
}

// Config holds configuration for the metadata resolver.
type Config struct {
	// APIBase is the web API gateway endpoint.
	APIBase string `mapstructure:"api_base" default:"https://api.steampowered.com"`
	// TimeoutSeconds bounds every resolution round-trip.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
}

// httpResolver resolves metadata through the published-file details
// endpoint.
type httpResolver struct {
	cfg  Config
	http *http.Client
}

// NewResolver creates a resolver backed by the web API gateway.
func NewResolver(cfg Config) Resolver {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpResolver{
		cfg: cfg,
		http: &http.Client{
			Transport: steam.NewHTTPTransport(timeout),
			Timeout:   timeout,
		},
	}
}

func (r *httpResolver) Resolve(ctx context.Context, ids []uint64) ([]Details, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > maxBatchSize {
		return nil, fmt.Errorf("resolve: %d ids exceeds the %d per-call limit", len(ids), maxBatchSize)
	}

	params := url.Values{}
	params.Set("itemcount", strconv.Itoa(len(ids)))
	for i, id := range ids {
		params.Set(fmt.Sprintf("publishedfileids[%d]", i), strconv.FormatUint(id, 10))
	}

	endpoint := r.cfg.APIBase + "/ISteamRemoteStorage/GetPublishedFileDetails/v1/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = params.Encode()

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolve: status %d: %w", resp.StatusCode, steam.ErrProtocol)
	}

	var wire struct {
		Response struct {
			PublishedFileDetails []struct {
				PublishedFileID string `json:"publishedfileid"`
				Result          int    `json:"result"`
				Title           string `json:"title"`
				HContentFile    string `json:"hcontent_file"`
				ConsumerAppID   uint32 `json:"consumer_app_id"`
			} `json:"publishedfiledetails"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("resolve: decode: %w", steam.ErrProtocol)
	}

	details := make([]Details, 0, len(wire.Response.PublishedFileDetails))
	for _, d := range wire.Response.PublishedFileDetails {
		id, _ := strconv.ParseUint(d.PublishedFileID, 10, 64)
		handle, _ := strconv.ParseUint(d.HContentFile, 10, 64)
		details = append(details, Details{
			ID:            id,
			Result:        d.Result,
			Title:         d.Title,
			ContentHandle: handle,
			ConsumerAppID: d.ConsumerAppID,
		})
	}
	return details, nil
}
