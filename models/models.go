// Package models defines the data exchanged between the fetcher, the scorer
// and the service.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GitHubProfile is the subset of the /users/{username} payload used for scoring.
type GitHubProfile struct {
	Login       string    `json:"login"`
	Name        string    `json:"name"`
	Bio         string    `json:"bio"`
	Location    string    `json:"location"`
	Company     string    `json:"company"`
	Blog        string    `json:"blog"`
	PublicRepos int       `json:"public_repos"`
	Followers   int       `json:"followers"`
	CreatedAt   time.Time `json:"created_at"`
	AvatarURL   string    `json:"avatar_url"`
	HTMLURL     string    `json:"html_url"`
}

// Repository is one entry of the owned-repository listing.
type Repository struct {
	Name            string `json:"name"`
	Language        string `json:"language"`
	StargazersCount int    `json:"stargazers_count"`
	ForksCount      int    `json:"forks_count"`
	CommitsURL      string `json:"commits_url"`
}

// ActivityCounts holds the activity signals that are not part of the profile.
type ActivityCounts struct {
	RecentCommits    int `json:"recentCommits"`
	TotalPRs         int `json:"totalPRs"`
	TotalIssues      int `json:"totalIssues"`
	ContributedToPRs int `json:"contributedToPRs"`
}

// GitHubData is everything the fetcher gathers for one scoring run.
type GitHubData struct {
	Profile      GitHubProfile
	Repositories []Repository
	Activity     ActivityCounts
}

// ScoreBreakdown maps a category name to its sub-score.
type ScoreBreakdown map[string]float64

// ScoreDetails carries the raw counts behind a score plus display fields.
type ScoreDetails struct {
	PublicRepos                int     `json:"publicRepos"`
	Followers                  int     `json:"followers"`
	TotalStars                 int     `json:"totalStars"`
	TotalForks                 int     `json:"totalForks"`
	AccountAgeYears            float64 `json:"accountAgeYears"`
	RecentCommits              int     `json:"recentCommits"`
	TotalPRs                   int     `json:"totalPRs"`
	TotalIssues                int     `json:"totalIssues"`
	ContributedToPRs           int     `json:"contributedToPRs"`
	ProfileCompletenessPercent int     `json:"profileCompletenessPercent"`
	LanguageCount              int     `json:"languageCount"`
	AvatarURL                  string  `json:"avatarUrl"`
	ProfileURL                 string  `json:"profileUrl"`
	DisplayName                string  `json:"displayName"`
	Bio                        string  `json:"bio"`
}

// Grade is the letter grade shown next to a score.
type Grade struct {
	Letter string `json:"letter"`
	Label  string `json:"label"`
}

// Eligibility describes how a score is consumed by the vouching contract.
type Eligibility struct {
	Backer        bool `json:"backer"`
	ContractScore uint `json:"contractScore"`
}

// ScoreResult is the response of one scoring run.
type ScoreResult struct {
	Username    string         `json:"username"`
	TotalScore  float64        `json:"totalScore"`
	Breakdown   ScoreBreakdown `json:"breakdown"`
	Details     ScoreDetails   `json:"details"`
	Grade       Grade          `json:"grade"`
	Eligibility Eligibility    `json:"eligibility"`
	Overridden  bool           `json:"overridden,omitempty"`
	ComputedAt  time.Time      `json:"computedAt"`
}

// ScoreRecord is a persisted scoring run.
type ScoreRecord struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Username   string          `db:"username" json:"username"`
	TotalScore float64         `db:"total_score" json:"totalScore"`
	Breakdown  json.RawMessage `db:"breakdown" json:"breakdown"`
	Details    json.RawMessage `db:"details" json:"details"`
	Overridden bool            `db:"overridden" json:"overridden"`
	ComputedAt time.Time       `db:"computed_at" json:"computedAt"`
}

// StaleUser is a username whose latest recorded score is older than the
// refresh window.
type StaleUser struct {
	Username     string    `db:"username"`
	LastComputed time.Time `db:"last_computed"`
}
