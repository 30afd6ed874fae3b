// Package scorer turns fetched GitHub data into a Developer Reputation Score.
//
// Every category starts at the floor (5) and earns a bonus that is either
// linear in a ratio or logarithmic in a count. Each category score and the
// weighted total are clamped to [floor, ceiling] and rounded to one decimal.
// The scorer performs no I/O and takes the evaluation time as an argument,
// so identical inputs always produce identical results.
package scorer

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"repufi/models"
)

const hoursPerYear = 24 * 365

// Scorer computes scores with a fixed parameter set.
type Scorer struct {
	params  Params
	weights map[string]float64
}

// New validates params and returns a Scorer.
func New(params Params) (*Scorer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{params: params, weights: params.Weights.ByCategory()}, nil
}

// Default returns a Scorer using DefaultParams.
func Default() *Scorer {
	s, err := New(DefaultParams())
	if err != nil {
		panic(err)
	}
	return s
}

// Params returns the parameters in use.
func (s *Scorer) Params() Params {
	return s.params
}

// aggregates are the values derived from the raw data before scoring.
type aggregates struct {
	totalStars          int
	totalForks          int
	accountAgeYears     float64
	languageCount       int
	profileCompleteness float64
}

func aggregate(data models.GitHubData, at time.Time) aggregates {
	var agg aggregates
	languages := make(map[string]struct{})
	for _, repo := range data.Repositories {
		agg.totalStars += repo.StargazersCount
		agg.totalForks += repo.ForksCount
		if repo.Language != "" {
			languages[repo.Language] = struct{}{}
		}
	}
	agg.languageCount = len(languages)

	if created := data.Profile.CreatedAt; !created.IsZero() && at.After(created) {
		agg.accountAgeYears = at.Sub(created).Hours() / hoursPerYear
	}

	agg.profileCompleteness = ProfileCompleteness(data.Profile)
	return agg
}

// ProfileCompleteness is the share of filled optional profile fields
// (name, bio, location, company, blog) as a percentage.
func ProfileCompleteness(p models.GitHubProfile) float64 {
	filled := 0
	for _, field := range []string{p.Name, p.Bio, p.Location, p.Company, p.Blog} {
		if field != "" {
			filled++
		}
	}
	return float64(filled) / 5 * 100
}

// Score computes the result for data evaluated at the given time.
func (s *Scorer) Score(data models.GitHubData, at time.Time) models.ScoreResult {
	p := s.params
	agg := aggregate(data, at)
	activity := data.Activity

	raw := map[string]float64{
		Repositories:  p.Floor + ratio(data.Profile.PublicRepos, p.RepositoriesDivisor)*p.RepositoriesMultiplier,
		Followers:     p.Floor + logCount(data.Profile.Followers)*p.FollowersMultiplier,
		Stars:         p.Floor + logCount(agg.totalStars)*p.StarsMultiplier,
		Forks:         p.Floor + logCount(agg.totalForks)*p.ForksMultiplier,
		AccountAge:    p.Floor + math.Min(p.AccountAgeCap, agg.accountAgeYears*p.AccountAgeMultiplier),
		Activity:      p.Floor + ratio(activity.RecentCommits, p.ActivityDivisor)*p.ActivityMultiplier,
		PRs:           p.Floor + logCount(activity.TotalPRs)*p.PRsMultiplier,
		Issues:        p.Floor + logCount(activity.TotalIssues)*p.IssuesMultiplier,
		Contributions: p.Floor + logCount(activity.ContributedToPRs)*p.ContributionsMultiplier,
		Profile:       p.Floor + agg.profileCompleteness/100*p.ProfileMultiplier,
		Languages:     p.Floor + ratio(agg.languageCount, p.LanguagesDivisor)*p.LanguagesMultiplier,
	}

	breakdown := make(models.ScoreBreakdown, len(Categories))
	weighted := 0.0
	for _, category := range Categories {
		score := round1(s.clamp(raw[category]))
		breakdown[category] = score
		weighted += score * s.weights[category]
	}
	total := round1(s.clamp(weighted))

	displayName := data.Profile.Name
	if displayName == "" {
		displayName = data.Profile.Login
	}

	return models.ScoreResult{
		Username:   data.Profile.Login,
		TotalScore: total,
		Breakdown:  breakdown,
		Details: models.ScoreDetails{
			PublicRepos:                data.Profile.PublicRepos,
			Followers:                  data.Profile.Followers,
			TotalStars:                 agg.totalStars,
			TotalForks:                 agg.totalForks,
			AccountAgeYears:            round1(agg.accountAgeYears),
			RecentCommits:              activity.RecentCommits,
			TotalPRs:                   activity.TotalPRs,
			TotalIssues:                activity.TotalIssues,
			ContributedToPRs:           activity.ContributedToPRs,
			ProfileCompletenessPercent: int(math.Round(agg.profileCompleteness)),
			LanguageCount:              agg.languageCount,
			AvatarURL:                  data.Profile.AvatarURL,
			ProfileURL:                 data.Profile.HTMLURL,
			DisplayName:                displayName,
			Bio:                        data.Profile.Bio,
		},
		Grade:       GradeFor(total),
		Eligibility: s.EligibilityFor(total),
		ComputedAt:  at.UTC(),
	}
}

// Override replaces the computed total with a fixed value and refreshes the
// fields derived from it.
func (s *Scorer) Override(result *models.ScoreResult, total float64) {
	result.TotalScore = round1(s.clamp(total))
	result.Grade = GradeFor(result.TotalScore)
	result.Eligibility = s.EligibilityFor(result.TotalScore)
	result.Overridden = true
}

func (s *Scorer) clamp(v float64) float64 {
	return math.Max(s.params.Floor, math.Min(s.params.Ceiling, v))
}

func ratio(value int, divisor float64) float64 {
	return float64(value) / divisor
}

func logCount(value int) float64 {
	return math.Log10(math.Max(1, float64(value)+1))
}

func round1(v float64) float64 {
	rounded, err := stats.Round(v, 1)
	if err != nil {
		return v
	}
	return rounded
}
