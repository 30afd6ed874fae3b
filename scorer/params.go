package scorer

import (
	"errors"
	"fmt"
	"math"
)

// Category names as they appear in a breakdown.
const (
	Repositories  = "repositories"
	Followers     = "followers"
	Stars         = "stars"
	Forks         = "forks"
	AccountAge    = "accountAge"
	Activity      = "activity"
	PRs           = "prs"
	Issues        = "issues"
	Contributions = "contributions"
	Profile       = "profile"
	Languages     = "languages"
)

// Categories lists every scored category in a fixed order.
var Categories = []string{
	Repositories, Followers, Stars, Forks, AccountAge, Activity,
	PRs, Issues, Contributions, Profile, Languages,
}

var ErrInvalidParams = errors.New("invalid scoring parameters")

// Weights holds the contribution of each category to the total.
type Weights struct {
	Repositories  float64 `mapstructure:"repositories"`
	Followers     float64 `mapstructure:"followers"`
	Stars         float64 `mapstructure:"stars"`
	Forks         float64 `mapstructure:"forks"`
	AccountAge    float64 `mapstructure:"account_age"`
	Activity      float64 `mapstructure:"activity"`
	PRs           float64 `mapstructure:"prs"`
	Issues        float64 `mapstructure:"issues"`
	Contributions float64 `mapstructure:"contributions"`
	Profile       float64 `mapstructure:"profile"`
	Languages     float64 `mapstructure:"languages"`
}

// ByCategory returns the weights keyed by category name.
func (w Weights) ByCategory() map[string]float64 {
	return map[string]float64{
		Repositories:  w.Repositories,
		Followers:     w.Followers,
		Stars:         w.Stars,
		Forks:         w.Forks,
		AccountAge:    w.AccountAge,
		Activity:      w.Activity,
		PRs:           w.PRs,
		Issues:        w.Issues,
		Contributions: w.Contributions,
		Profile:       w.Profile,
		Languages:     w.Languages,
	}
}

// Params are the tuning knobs of the score. Ratio categories compute
// floor + (value / divisor) * multiplier, log categories compute
// floor + log10(max(1, value+1)) * multiplier.
type Params struct {
	Floor   float64 `mapstructure:"floor"`
	Ceiling float64 `mapstructure:"ceiling"`

	RepositoriesDivisor     float64 `mapstructure:"repositories_divisor"`
	RepositoriesMultiplier  float64 `mapstructure:"repositories_multiplier"`
	FollowersMultiplier     float64 `mapstructure:"followers_multiplier"`
	StarsMultiplier         float64 `mapstructure:"stars_multiplier"`
	ForksMultiplier         float64 `mapstructure:"forks_multiplier"`
	AccountAgeMultiplier    float64 `mapstructure:"account_age_multiplier"`
	AccountAgeCap           float64 `mapstructure:"account_age_cap"`
	ActivityDivisor         float64 `mapstructure:"activity_divisor"`
	ActivityMultiplier      float64 `mapstructure:"activity_multiplier"`
	PRsMultiplier           float64 `mapstructure:"prs_multiplier"`
	IssuesMultiplier        float64 `mapstructure:"issues_multiplier"`
	ContributionsMultiplier float64 `mapstructure:"contributions_multiplier"`
	ProfileMultiplier       float64 `mapstructure:"profile_multiplier"`
	LanguagesDivisor        float64 `mapstructure:"languages_divisor"`
	LanguagesMultiplier     float64 `mapstructure:"languages_multiplier"`

	// MinBackerScore is the total a user needs to back someone else.
	MinBackerScore float64 `mapstructure:"min_backer_score"`

	Weights Weights `mapstructure:"weights"`
}

// DefaultParams returns the current production coefficients.
func DefaultParams() Params {
	return Params{
		Floor:   5,
		Ceiling: 10,

		RepositoriesDivisor:     25,
		RepositoriesMultiplier:  50,
		FollowersMultiplier:     10.5,
		StarsMultiplier:         10.2,
		ForksMultiplier:         10.0,
		AccountAgeMultiplier:    10.25,
		AccountAgeCap:           5,
		ActivityDivisor:         25,
		ActivityMultiplier:      50,
		PRsMultiplier:           10.5,
		IssuesMultiplier:        10.0,
		ContributionsMultiplier: 20.0,
		ProfileMultiplier:       50,
		LanguagesDivisor:        4,
		LanguagesMultiplier:     50,

		MinBackerScore: 7.0,

		Weights: Weights{
			Repositories:  0.10,
			Followers:     0.10,
			Stars:         0.15,
			Forks:         0.05,
			AccountAge:    0.10,
			Activity:      0.15,
			PRs:           0.10,
			Issues:        0.05,
			Contributions: 0.10,
			Profile:       0.05,
			Languages:     0.05,
		},
	}
}

// Validate rejects parameter sets that would break the score invariants.
func (p Params) Validate() error {
	for name, v := range p.coefficients() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a finite number", ErrInvalidParams, name)
		}
	}
	for name, w := range p.Weights.ByCategory() {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight %s must be a finite number", ErrInvalidParams, name)
		}
	}

	if p.Floor < 0 {
		return fmt.Errorf("%w: floor %.2f is negative", ErrInvalidParams, p.Floor)
	}
	if p.Floor >= p.Ceiling {
		return fmt.Errorf("%w: floor %.2f must be below ceiling %.2f", ErrInvalidParams, p.Floor, p.Ceiling)
	}

	divisors := map[string]float64{
		"repositories_divisor": p.RepositoriesDivisor,
		"activity_divisor":     p.ActivityDivisor,
		"languages_divisor":    p.LanguagesDivisor,
	}
	for name, d := range divisors {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidParams, name)
		}
	}

	sum := 0.0
	for name, w := range p.Weights.ByCategory() {
		if w < 0 {
			return fmt.Errorf("%w: weight %s is negative", ErrInvalidParams, name)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: weights sum to %.4f, want 1", ErrInvalidParams, sum)
	}
	return nil
}

func (p Params) coefficients() map[string]float64 {
	return map[string]float64{
		"floor":                    p.Floor,
		"ceiling":                  p.Ceiling,
		"repositories_divisor":     p.RepositoriesDivisor,
		"repositories_multiplier":  p.RepositoriesMultiplier,
		"followers_multiplier":     p.FollowersMultiplier,
		"stars_multiplier":         p.StarsMultiplier,
		"forks_multiplier":         p.ForksMultiplier,
		"account_age_multiplier":   p.AccountAgeMultiplier,
		"account_age_cap":          p.AccountAgeCap,
		"activity_divisor":         p.ActivityDivisor,
		"activity_multiplier":      p.ActivityMultiplier,
		"prs_multiplier":           p.PRsMultiplier,
		"issues_multiplier":        p.IssuesMultiplier,
		"contributions_multiplier": p.ContributionsMultiplier,
		"profile_multiplier":       p.ProfileMultiplier,
		"languages_divisor":        p.LanguagesDivisor,
		"languages_multiplier":     p.LanguagesMultiplier,
		"min_backer_score":         p.MinBackerScore,
	}
}
