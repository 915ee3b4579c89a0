// Package csm is the HTTP client for the CSM.ai model search and animation
// services.
package csm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/CommonSenseMachines/blender-mcp/config"
	"github.com/CommonSenseMachines/blender-mcp/logger"
)

const (
	searchPath   = "/image-to-3d-sessions/session-search/vector-search"
	userDataPath = "/user/userdata"

	csmHTTPTimeout = 30 * time.Second

	// TierFree is the tier used when nothing better is known.
	TierFree = "free"
	// TierUser asks for the account's own tier.
	TierUser = "user"

	apiKeyHelpURL = "https://3d.csm.ai/my-profile?activeTab=developer_settings"
)

var (
	// ErrDisabled is returned when the integration is switched off.
	ErrDisabled = errors.New("CSM.ai integration is disabled")
	// ErrNoAPIKey is returned when the integration is on but no key is set.
	ErrNoAPIKey = errors.New("CSM.ai API key is not set")
)

// SettingsProvider supplies the current integration settings.
// *config.Config implements it.
type SettingsProvider interface {
	CSM() config.CSMSettings
}

// Client talks to the CSM.ai HTTP APIs.
type Client struct {
	settings   SettingsProvider
	httpClient *http.Client

	// animationClient carries no timeout of its own; Animate bounds each
	// call with animationTimeout.
	animationClient  *http.Client
	// downloadClient bounds only connecting and waiting for headers, so a
	// slow but steady body is read to the end.
	downloadClient   *http.Client
	animationTimeout time.Duration
	cache            Cache
	cacheTTL         time.Duration
	log              *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.animationClient = hc
		c.downloadClient = hc
	}
}

// WithAPITimeout overrides the timeout for API calls. Downloads use it as
// their response header timeout.
func WithAPITimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
		c.downloadClient = newDownloadClient(d)
	}
}

// WithAnimationTimeout overrides DefaultAnimationTimeout.
func WithAnimationTimeout(d time.Duration) Option {
	return func(c *Client) { c.animationTimeout = d }
}

// WithCache enables caching of search results.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// New creates a client reading its settings from settings on every call.
func New(settings SettingsProvider, opts ...Option) *Client {
	c := &Client{
		settings:         settings,
		httpClient:       &http.Client{Timeout: csmHTTPTimeout},
		animationClient:  &http.Client{},
		downloadClient:   newDownloadClient(csmHTTPTimeout),
		animationTimeout: DefaultAnimationTimeout,
		log:              logger.WithComponent("csm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status reports whether the integration is usable.
type Status struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

// Status checks the integration flag and API key without any network call.
func (c *Client) Status() Status {
	s := c.settings.CSM()
	if !s.Enabled {
		return Status{Enabled: false, Message: ErrDisabled.Error()}
	}
	if s.APIKey == "" {
		return Status{Enabled: false, Message: ErrNoAPIKey.Error()}
	}
	return Status{Enabled: true}
}

// ready returns the settings if the integration is enabled and keyed.
func (c *Client) ready() (config.CSMSettings, error) {
	s := c.settings.CSM()
	if !s.Enabled {
		return s, ErrDisabled
	}
	if s.APIKey == "" {
		return s, fmt.Errorf("%w. Visit %s to get your API key", ErrNoAPIKey, apiKeyHelpURL)
	}
	return s, nil
}

// Model is a search hit that has a downloadable GLB mesh.
type Model struct {
	ID          string `json:"id"`
	SessionCode string `json:"session_code"`
	ImageURL    string `json:"image_url"`
	MeshURLGLB  string `json:"mesh_url_glb"`
	Status      string `json:"status"`
	Tier        string `json:"tier"`
}

// SearchResult is the outcome of a model search.
type SearchResult struct {
	Status          string         `json:"status"`
	Models          []Model        `json:"models"`
	TotalFound      int            `json:"total_found"`
	AvailableModels int            `json:"available_models"`
	TierUsed        string         `json:"tier_used"`
	ModelsByTier    map[string]int `json:"models_by_tier"`
}

type searchRequest struct {
	SearchText string `json:"search_text"`
	Limit      int    `json:"limit"`
	FilterBody struct {
		Tier string `json:"tier,omitempty"`
	} `json:"filter_body"`
}

type searchHit struct {
	ID             string `json:"_id"`
	SessionCode    string `json:"session_code"`
	ImageURL       string `json:"image_url"`
	MeshURLGLB     string `json:"mesh_url_glb"`
	Status         string `json:"status"`
	TierAtCreation string `json:"tier_at_creation"`
}

type searchResponse struct {
	Data []searchHit `json:"data"`
}

// ResolveTier picks the tier a search is filtered by.
//
// An explicit "free" request is ignored when private assets are enabled. Any
// other explicit tier except "user" wins. Otherwise the account's tier is
// used when private assets are enabled, and "free" when they are not.
func ResolveTier(requested string, usePrivateAssets bool, accountTier string) string {
	if requested == TierFree && usePrivateAssets {
		requested = ""
	}
	if requested != "" && requested != TierUser {
		return requested
	}
	if usePrivateAssets && accountTier != "" {
		return accountTier
	}
	return TierFree
}

// Search runs a vector search for models matching text. Only models with a
// GLB mesh are returned; TotalFound counts every hit.
func (c *Client) Search(ctx context.Context, text string, limit int, tier string) (*SearchResult, error) {
	s, err := c.ready()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	accountTier := ""
	if tier == "" || tier == TierUser || (tier == TierFree && s.UsePrivateAssets) {
		accountTier = c.UserTier(ctx)
	}
	filterTier := ResolveTier(tier, s.UsePrivateAssets, accountTier)
	log := c.log.With("tier", filterTier, "limit", limit)

	key := searchCacheKey(s.APIKey, s.UsePrivateAssets, filterTier, limit, text)
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, key); ok {
			log.Debug("search cache hit", "query", text)
			return cached, nil
		}
	}

	reqBody := searchRequest{SearchText: text, Limit: limit}
	reqBody.FilterBody.Tier = filterTier
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIBase+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, s.APIKey)

	log.Info("searching models", "query", text)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError("Error searching CSM models", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		details, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetails))
		msg := "API request failed"
		switch resp.StatusCode {
		case http.StatusForbidden:
			msg = "Authentication failed: Your API key may be invalid"
		case http.StatusUnauthorized:
			msg = "Authentication failed: Unauthorized"
		}
		log.Warn("search failed", "status", resp.StatusCode)
		return nil, &ServiceError{
			Reason:  ReasonHTTP,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("%s (Status code: %d)", msg, resp.StatusCode),
			Details: string(details),
		}
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, &ServiceError{
			Reason:  ReasonMalformed,
			Message: "Error searching CSM models: invalid response from search service",
			Err:     err,
		}
	}

	result := &SearchResult{
		Status:       "success",
		Models:       []Model{},
		TotalFound:   len(sr.Data),
		TierUsed:     filterTier,
		ModelsByTier: make(map[string]int),
	}
	for _, hit := range sr.Data {
		t := hit.TierAtCreation
		if t == "" {
			t = "unknown"
		}
		result.ModelsByTier[t]++
		if hit.MeshURLGLB == "" {
			continue
		}
		result.Models = append(result.Models, Model{
			ID:          hit.ID,
			SessionCode: hit.SessionCode,
			ImageURL:    hit.ImageURL,
			MeshURLGLB:  hit.MeshURLGLB,
			Status:      hit.Status,
			Tier:        hit.TierAtCreation,
		})
	}
	result.AvailableModels = len(result.Models)
	log.Info("search complete", "found", result.TotalFound, "available", result.AvailableModels)

	if c.cache != nil {
		c.cache.Set(ctx, key, result, c.cacheTTL)
	}
	return result, nil
}

type userDataResponse struct {
	Data *struct {
		Tier string `json:"tier"`
	} `json:"data"`
}

// UserTier looks up the account tier for the configured API key. Any
// failure yields "free".
func (c *Client) UserTier(ctx context.Context) string {
	s := c.settings.CSM()
	if s.APIKey == "" {
		return TierFree
	}
	log := c.log.With("key", config.MaskKey(s.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.APIBase+userDataPath, nil)
	if err != nil {
		log.Warn("failed to create tier request", "error", err)
		return TierFree
	}
	setHeaders(req, s.APIKey)
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("tier lookup failed", "error", err)
		return TierFree
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("tier lookup returned error status", "status", resp.StatusCode)
		return TierFree
	}

	var ud userDataResponse
	if err := json.NewDecoder(resp.Body).Decode(&ud); err != nil || ud.Data == nil {
		log.Warn("tier lookup returned no user data")
		return TierFree
	}
	if ud.Data.Tier == "" {
		return TierFree
	}
	log.Debug("resolved account tier", "tier", ud.Data.Tier)
	return ud.Data.Tier
}

func newDownloadClient(headerTimeout time.Duration) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: t}
}

// Download streams the body at url into w. There is no limit on the total
// transfer time; cancel ctx to abort.
func (c *Client) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return 0, networkError("Download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &ServiceError{
			Reason:  ReasonHTTP,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("Download failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, networkError("Download interrupted", err)
	}
	return n, nil
}

func setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("x-platform", "web")
}
