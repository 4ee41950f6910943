package strategy

import (
	"fmt"
	"regexp"

	"github.com/sahilm/fuzzy"
	"github.com/shopspring/decimal"

	"presale_sniper/internal/model"
)

const (
	negativePenalty  = 10
	priceMatchScore  = 100
	patternNameBonus = 100
)

// Config holds the keyword sets and weights of the ticket priority score.
type Config struct {
	PositiveKeywords []string
	NegativeKeywords []string
	NameWeight       int
	PriceWeight      int
}

func DefaultConfig() Config {
	return Config{
		PositiveKeywords: []string{"4 hengen", "Promenade", "A-hytti", "helga"},
		NegativeKeywords: []string{"allergia", "handicap", "inva"},
		NameWeight:       1,
		PriceWeight:      1000,
	}
}

// Selector ranks the variants of one sale for one set of task options.
// It holds no mutable state and is safe for concurrent use.
type Selector struct {
	cfg         Config
	opts        model.TaskOptions
	pattern     *regexp.Regexp
	targetMinor *decimal.Decimal
}

func NewSelector(cfg Config, opts model.TaskOptions) (*Selector, error) {
	s := &Selector{cfg: cfg, opts: opts}
	if opts.UseRegex && opts.TargetName != "" {
		re, err := regexp.Compile("(?i)" + opts.TargetName)
		if err != nil {
			return nil, fmt.Errorf("%w: targetName: %v", model.ErrInvalidOptions, err)
		}
		s.pattern = re
	}
	if opts.TargetPrice != nil {
		if opts.TargetPrice.IsNegative() {
			return nil, fmt.Errorf("%w: targetPrice must not be negative", model.ErrInvalidOptions)
		}
		minor := opts.TargetPrice.Mul(decimal.NewFromInt(100))
		s.targetMinor = &minor
	}
	return s, nil
}

// ValidateOptions reports whether opts can build a selector.
func ValidateOptions(opts model.TaskOptions) error {
	_, err := NewSelector(DefaultConfig(), opts)
	return err
}

// Eligible drops sold out variants and, unless membership is ignored, member-only ones.
// The input order is kept.
func (s *Selector) Eligible(variants []model.Variant) []model.Variant {
	out := make([]model.Variant, 0, len(variants))
	for _, v := range variants {
		if v.Availability <= 0 {
			continue
		}
		if v.MembershipRequired && !s.opts.IgnoreMembership {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Choose returns the best eligible variant. Equal scores keep the earliest variant.
func (s *Selector) Choose(variants []model.Variant) (model.Variant, bool) {
	var (
		best      model.Variant
		bestScore int
		found     bool
	)
	for _, v := range s.Eligible(variants) {
		score := s.Score(v)
		if !found || score > bestScore {
			best, bestScore, found = v, score, true
		}
	}
	return best, found
}

func (s *Selector) Score(v model.Variant) int {
	return s.NameScore(v.Name)*s.cfg.NameWeight + s.PriceScore(v.PricePerItem)*s.cfg.PriceWeight
}

func (s *Selector) NameScore(name string) int {
	score := 0
	for _, kw := range s.cfg.PositiveKeywords {
		score += matchScore(kw, name)
	}
	for _, kw := range s.cfg.NegativeKeywords {
		score -= negativePenalty * matchScore(kw, name)
	}
	switch {
	case s.pattern != nil:
		if s.pattern.MatchString(name) {
			score += patternNameBonus
		}
	case s.opts.TargetName != "":
		score += matchScore(s.opts.TargetName, name)
	}
	return score
}

func (s *Selector) PriceScore(pricePerItem int64) int {
	if s.targetMinor == nil {
		return 0
	}
	if s.targetMinor.Equal(decimal.NewFromInt(pricePerItem)) {
		return priceMatchScore
	}
	return 0
}

// matchScore is the best fuzzy match score of keyword inside name, or 0 without a match.
// fuzzy charges one point per unmatched byte of name; that charge is refunded so
// the score does not depend on how long the name is. A match never scores below 1.
func matchScore(keyword, name string) int {
	matches := fuzzy.Find(keyword, []string{name})
	if len(matches) == 0 {
		return 0
	}
	m := matches[0]
	score := m.Score + len(name) - len(m.MatchedIndexes)
	if score < 1 {
		return 1
	}
	return score
}
