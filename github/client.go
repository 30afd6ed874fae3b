package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"repufi/httpretry"
	"repufi/logger"
	"repufi/models"
)

const (
	DefaultBaseURL = "https://api.github.com"
	userAgent      = "repufi"
	acceptHeader   = "application/vnd.github.v3+json"
	commitsPerPage = 100
	reposPerPage   = 100
)

// GitHub client errors
var (
	ErrConfiguration = errors.New("github api token is not configured on the server")
	ErrUserNotFound  = errors.New("github user not found")
)

// Config configures a Client.
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
	Retry   httpretry.Policy
}

// Client is a GitHub REST client. Every call goes through the retrying
// transport.
type Client struct {
	baseURL  *url.URL
	hasToken bool
	http     *httpretry.Client
}

// NewClient builds a client that authenticates with a bearer token.
func NewClient(cfg Config, opts ...httpretry.Option) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", base, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.Token != "" {
		httpClient.Transport = &oauth2.Transport{
			Base:   http.DefaultTransport,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
		}
	}

	logger.Info("Initializing GitHub client",
		zap.String("base_url", baseURL.String()),
		zap.Bool("authenticated", cfg.Token != ""),
		zap.Int("max_attempts", cfg.Retry.Attempts))

	return &Client{
		baseURL:  baseURL,
		hasToken: cfg.Token != "",
		http:     httpretry.New(httpClient, cfg.Retry, opts...),
	}, nil
}

// GetUser fetches the public profile of username.
func (c *Client) GetUser(ctx context.Context, username string) (*models.GitHubProfile, error) {
	var profile models.GitHubProfile
	if err := c.getJSON(ctx, c.endpoint("users", username), &profile); err != nil {
		var fetchErr *httpretry.FetchError
		if errors.As(err, &fetchErr) && fetchErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return nil, fmt.Errorf("failed to fetch user data: %w", err)
	}
	return &profile, nil
}

// ListRepositories returns the repositories owned by username, most recently
// updated first, capped at one page of 100.
func (c *Client) ListRepositories(ctx context.Context, username string) ([]models.Repository, error) {
	reqURL := c.endpoint("users", username, "repos")
	q := reqURL.Query()
	q.Set("per_page", strconv.Itoa(reposPerPage))
	q.Set("sort", "updated")
	q.Set("type", "owner")
	reqURL.RawQuery = q.Encode()

	var repos []models.Repository
	if err := c.getJSON(ctx, reqURL, &repos); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

// CountCommits counts the commits in repo authored by author since the given
// time. Only the first page is read.
func (c *Client) CountCommits(ctx context.Context, owner string, repo models.Repository, author string, since time.Time) (int, error) {
	var reqURL *url.URL
	if repo.CommitsURL != "" {
		parsed, err := url.Parse(strings.Replace(repo.CommitsURL, "{/sha}", "", 1))
		if err != nil {
			return 0, fmt.Errorf("invalid commits URL for %s: %w", repo.Name, err)
		}
		reqURL = parsed
	} else {
		reqURL = c.endpoint("repos", owner, repo.Name, "commits")
	}

	q := reqURL.Query()
	q.Set("author", author)
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("per_page", strconv.Itoa(commitsPerPage))
	reqURL.RawQuery = q.Encode()

	var commits []json.RawMessage
	if err := c.getJSON(ctx, reqURL, &commits); err != nil {
		return 0, fmt.Errorf("failed to fetch commits for %s: %w", repo.Name, err)
	}
	return len(commits), nil
}

// SearchIssueCount runs an issue search and returns total_count.
func (c *Client) SearchIssueCount(ctx context.Context, query string) (int, error) {
	reqURL := c.endpoint("search", "issues")
	// The search API expects literal '+' separators and ':' qualifiers.
	reqURL.RawQuery = "q=" + searchEscape(query) + "&per_page=1"

	var result struct {
		TotalCount int `json:"total_count"`
	}
	if err := c.getJSON(ctx, reqURL, &result); err != nil {
		return 0, fmt.Errorf("failed to search issues %q: %w", query, err)
	}
	return result.TotalCount, nil
}

func (c *Client) endpoint(segments ...string) *url.URL {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	u.RawPath = ""
	return &u
}

func (c *Client) getJSON(ctx context.Context, reqURL *url.URL, out any) error {
	if !c.hasToken {
		return ErrConfiguration
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)

	logger.Debug("Calling GitHub API", zap.String("url", reqURL.String()))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", reqURL.Redacted(), err)
	}
	return nil
}

// searchEscape escapes each search term but keeps spaces as '+'.
func searchEscape(query string) string {
	terms := strings.Fields(query)
	for i, term := range terms {
		terms[i] = strings.ReplaceAll(url.QueryEscape(term), "%3A", ":")
	}
	return strings.Join(terms, "+")
}
