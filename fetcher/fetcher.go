package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"repufi/logger"
	"repufi/models"
)

const (
	DefaultCommitScanRepos = 5
	DefaultCommitWindow    = 30 * 24 * time.Hour
)

// GitHubClientInterface defines the GitHub client operations needed by the fetcher
type GitHubClientInterface interface {
	GetUser(ctx context.Context, username string) (*models.GitHubProfile, error)
	ListRepositories(ctx context.Context, username string) ([]models.Repository, error)
	CountCommits(ctx context.Context, owner string, repo models.Repository, author string, since time.Time) (int, error)
	SearchIssueCount(ctx context.Context, query string) (int, error)
}

// Options tunes how much activity is sampled.
type Options struct {
	CommitScanRepos int
	CommitWindow    time.Duration
	Now             func() time.Time
}

// Fetcher gathers every raw signal needed to score a GitHub account. Only the
// profile lookup is mandatory; everything else degrades to an empty value.
type Fetcher struct {
	client          GitHubClientInterface
	commitScanRepos int
	commitWindow    time.Duration
	now             func() time.Time
}

// New creates a Fetcher. Zero options fall back to 5 repositories and a
// 30 day window.
func New(client GitHubClientInterface, opts Options) *Fetcher {
	f := &Fetcher{
		client:          client,
		commitScanRepos: opts.CommitScanRepos,
		commitWindow:    opts.CommitWindow,
		now:             opts.Now,
	}
	if f.commitScanRepos <= 0 {
		f.commitScanRepos = DefaultCommitScanRepos
	}
	if f.commitWindow <= 0 {
		f.commitWindow = DefaultCommitWindow
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// Fetch runs every lookup for username in order and returns the bundle.
func (f *Fetcher) Fetch(ctx context.Context, username string) (*models.GitHubData, error) {
	log := logger.ForUser(username)
	log.Info("Fetching GitHub data")

	profile, err := f.FetchProfile(ctx, username)
	if err != nil {
		return nil, err
	}

	repos := f.FetchRepositories(ctx, username)
	activity := models.ActivityCounts{
		RecentCommits:    f.FetchRecentCommitCount(ctx, username, repos),
		TotalPRs:         f.FetchPullRequestCount(ctx, username),
		TotalIssues:      f.FetchIssueCount(ctx, username),
		ContributedToPRs: f.FetchContributedPRCount(ctx, username),
	}

	log.Info("Fetched GitHub data",
		zap.Int("repositories", len(repos)),
		zap.Int("recent_commits", activity.RecentCommits),
		zap.Int("total_prs", activity.TotalPRs),
		zap.Int("total_issues", activity.TotalIssues),
		zap.Int("contributed_prs", activity.ContributedToPRs))

	return &models.GitHubData{
		Profile:      *profile,
		Repositories: repos,
		Activity:     activity,
	}, nil
}

// FetchProfile looks up the account. Its errors abort the scoring run.
func (f *Fetcher) FetchProfile(ctx context.Context, username string) (*models.GitHubProfile, error) {
	profile, err := f.client.GetUser(ctx, username)
	if err != nil {
		logger.Error("Failed to fetch GitHub profile", zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("failed to fetch profile for %s: %w", username, err)
	}
	return profile, nil
}

// FetchRepositories lists owned repositories, or none if the listing fails.
func (f *Fetcher) FetchRepositories(ctx context.Context, username string) []models.Repository {
	repos, err := f.client.ListRepositories(ctx, username)
	if err != nil {
		logger.Warn("Could not fetch repositories, scoring without them",
			zap.String("username", username), zap.Error(err))
		return []models.Repository{}
	}
	if repos == nil {
		return []models.Repository{}
	}
	return repos
}

// FetchRecentCommitCount sums the user's commits inside the window over the
// most recently updated repositories. A failing repository is skipped.
func (f *Fetcher) FetchRecentCommitCount(ctx context.Context, username string, repos []models.Repository) int {
	since := f.now().Add(-f.commitWindow)
	sample := repos
	if len(sample) > f.commitScanRepos {
		sample = sample[:f.commitScanRepos]
	}

	total := 0
	for _, repo := range sample {
		if ctx.Err() != nil {
			break
		}
		count, err := f.client.CountCommits(ctx, username, repo, username, since)
		if err != nil {
			logger.Warn("Could not fetch commits",
				zap.String("username", username),
				zap.String("repository", repo.Name),
				zap.Error(err))
			continue
		}
		total += count
	}
	return total
}

// FetchPullRequestCount counts pull requests authored by the user.
func (f *Fetcher) FetchPullRequestCount(ctx context.Context, username string) int {
	return f.searchCount(ctx, username, fmt.Sprintf("author:%s type:pr", username))
}

// FetchIssueCount counts issues authored by the user.
func (f *Fetcher) FetchIssueCount(ctx context.Context, username string) int {
	return f.searchCount(ctx, username, fmt.Sprintf("author:%s type:issue", username))
}

// FetchContributedPRCount approximates pull requests opened against other
// people's repositories by excluding the user's own namespace.
func (f *Fetcher) FetchContributedPRCount(ctx context.Context, username string) int {
	return f.searchCount(ctx, username, fmt.Sprintf("author:%s type:pr -user:%s", username, username))
}

func (f *Fetcher) searchCount(ctx context.Context, username, query string) int {
	count, err := f.client.SearchIssueCount(ctx, query)
	if err != nil {
		logger.Warn("Search query failed, counting as zero",
			zap.String("username", username),
			zap.String("query", query),
			zap.Error(err))
		return 0
	}
	return count
}
