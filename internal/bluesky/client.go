package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultPDS       = "https://bsky.social"
	defaultSearchURL = "https://search.bsky.social"

	// MaxBatchURIs is the most post URIs accepted by a single getPosts call.
	MaxBatchURIs = 25

	postCollection = "app.bsky.feed.post"
)

// Client is a minimal BlueSky/AT Protocol API client covering post search,
// batched post resolution, profile lookup, and record creation.
type Client struct {
	pds        string
	searchURL  string
	httpClient *http.Client

	// populated after Login
	accessJwt string
	did       string
}

// NewClient creates a new BlueSky API client. Empty hosts fall back to the
// public defaults.
func NewClient(pds, searchURL string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	if searchURL == "" {
		searchURL = defaultSearchURL
	}
	return &Client{
		pds:       pds,
		searchURL: searchURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Login authenticates with the PDS and stores the session token. Use an App
// Password, not your account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	return nil
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// SearchPosts fetches one page of historical search hits for the query at
// the given offset. Hits are returned newest-first, as the endpoint orders
// them. An empty page means the index is exhausted.
func (c *Client) SearchPosts(ctx context.Context, query string, offset int) ([]SearchHit, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("offset", strconv.Itoa(offset))

	var hits []SearchHit
	if err := c.get(ctx, c.searchURL+"/search/posts?"+q.Encode(), &hits); err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return hits, nil
}

// GetPosts resolves up to MaxBatchURIs post URIs into enriched post views,
// in request order. Deleted or otherwise missing posts are simply absent
// from the result, so the returned slice may be shorter than the input.
func (c *Client) GetPosts(ctx context.Context, uris []string) ([]PostView, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	if len(uris) > MaxBatchURIs {
		return nil, fmt.Errorf("get posts: %d uris exceeds batch limit of %d", len(uris), MaxBatchURIs)
	}

	q := url.Values{}
	for _, uri := range uris {
		q.Add("uris", uri)
	}

	var resp struct {
		Posts []PostView `json:"posts"`
	}
	if err := c.get(ctx, c.pds+"/xrpc/app.bsky.feed.getPosts?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("get posts: %w", err)
	}
	return resp.Posts, nil
}

// GetPost resolves a single post URI into its enriched view. Returns nil
// without error when the post no longer exists.
func (c *Client) GetPost(ctx context.Context, uri string) (*PostView, error) {
	posts, err := c.GetPosts(ctx, []string{uri})
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, nil
	}
	return &posts[0], nil
}

// GetProfile fetches the detailed profile view for a single actor (DID or
// handle).
func (c *Client) GetProfile(ctx context.Context, actor string) (*ProfileView, error) {
	q := url.Values{}
	q.Set("actor", actor)

	var view ProfileView
	if err := c.get(ctx, c.pds+"/xrpc/app.bsky.actor.getProfile?"+q.Encode(), &view); err != nil {
		return nil, fmt.Errorf("get profile %s: %w", actor, err)
	}
	return &view, nil
}

// GetProfiles fetches detailed profile views for several actors at once.
func (c *Client) GetProfiles(ctx context.Context, actors []string) ([]ProfileView, error) {
	if len(actors) == 0 {
		return nil, nil
	}

	q := url.Values{}
	for _, a := range actors {
		q.Add("actors", a)
	}

	var resp struct {
		Profiles []ProfileView `json:"profiles"`
	}
	if err := c.get(ctx, c.pds+"/xrpc/app.bsky.actor.getProfiles?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("get profiles: %w", err)
	}
	return resp.Profiles, nil
}

// CreatePost writes a new post record to the authenticated user's repo and
// returns its strong reference.
func (c *Client) CreatePost(ctx context.Context, record PostBody) (PostRef, error) {
	if c.accessJwt == "" {
		return PostRef{}, fmt.Errorf("not authenticated: call Login first")
	}

	record.Type = postCollection
	body := createRecordRequest{
		Repo:       c.did,
		Collection: postCollection,
		Record:     record,
	}

	var resp createRecordResponse
	if err := c.post(ctx, "/xrpc/com.atproto.repo.createRecord", body, &resp); err != nil {
		return PostRef{}, fmt.Errorf("create record: %w", err)
	}
	return PostRef{URI: resp.URI, CID: resp.CID}, nil
}

func (c *Client) get(ctx context.Context, rawURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}
