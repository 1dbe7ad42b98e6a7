package watch

import (
	"dropwatch/lib/textutil"
)

// DefaultProgramKeywords mark a session as drop-in style rather than a
// season commitment.
var DefaultProgramKeywords = []string{"pickup", "drop-in", "drop in", "open play", "open gym"}

// exclusionMarkers disqualify a session regardless of everything else.
var exclusionMarkers = []string{"sold out", "waitlist"}

// Predicate is one pure check against an event's search text.
type Predicate struct {
	Name  string
	Match func(searchText string) bool
}

// FilterChain evaluates its predicates conjunctively. Order only
// affects which stage gets reported as the rejector.
type FilterChain struct {
	predicates []Predicate
}

// NewFilterChain builds the standard venue/sport/program/availability
// chain from the watch configuration.
func NewFilterChain(cfg Config) FilterChain {
	keywords := cfg.ProgramKeywords
	if len(keywords) == 0 {
		keywords = DefaultProgramKeywords
	}

	predicates := []Predicate{
		{
			Name: "venue",
			Match: func(text string) bool {
				return textutil.Contains(text, cfg.VenueId)
			},
		},
		{
			Name: "sport",
			Match: func(text string) bool {
				return textutil.Contains(text, cfg.Sport)
			},
		},
		{
			Name: "program",
			Match: func(text string) bool {
				return textutil.ContainsAny(text, keywords)
			},
		},
		{
			Name: "availability",
			Match: func(text string) bool {
				return !textutil.ContainsAny(text, exclusionMarkers)
			},
		},
	}
	if cfg.VenueName != "" {
		predicates = append(predicates, Predicate{
			Name: "venue-name",
			Match: func(text string) bool {
				return textutil.Contains(text, cfg.VenueName)
			},
		})
	}
	return FilterChain{predicates: predicates}
}

// Eval runs the chain. rejectedBy names the first failing predicate and
// is purely diagnostic.
func (c FilterChain) Eval(e Event) (ok bool, rejectedBy string) {
	for _, p := range c.predicates {
		if !p.Match(e.SearchText) {
			return false, p.Name
		}
	}
	return true, ""
}
