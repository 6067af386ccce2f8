// Package classify scores Instagram captions for event-poster likelihood
// using keyword heuristics.
package classify

import "strings"

var eventKeywords = []string{
	"event",
	"concert",
	"festival",
	"workshop",
	"seminar",
	"conference",
	"party",
	"celebration",
	"fundraiser",
	"gala",
	"show",
	"performance",
	"exhibition",
	"market",
	"fair",
	"competition",
	"tournament",
	"meetup",
	"class",
	"rehearsal",
	"tour",
	"open mic",
	"screening",
}

var posterKeywords = []string{
	"poster",
	"flyer",
	"announcement",
	"coming soon",
	"presenting",
	"featuring",
	"live music",
	"food trucks",
	"family friendly",
	"all ages",
	"free admission",
	"ticket",
	"rsvp",
	"register",
	"save the date",
	"doors open",
	"starts at",
}

var monthKeywords = []string{
	"january",
	"february",
	"march",
	"april",
	"may",
	"june",
	"july",
	"august",
	"september",
	"october",
	"november",
	"december",
}

// CaptionClassifier decides whether a caption announces an event. The score
// counts keyword hits across the event, month and poster vocabularies.
type CaptionClassifier struct{}

// NewCaptionClassifier creates a keyword-based caption classifier
func NewCaptionClassifier() *CaptionClassifier {
	return &CaptionClassifier{}
}

// Classify scores the caption. Three or more keyword hits mark a confident
// event, a single hit a tentative one. Empty captions are never events.
func (c *CaptionClassifier) Classify(caption string) (bool, float64) {
	if caption == "" {
		return false, 0.0
	}
	lower := strings.ToLower(caption)

	score := 0
	for _, kw := range eventKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	for _, kw := range monthKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	for _, kw := range posterKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}

	switch {
	case score >= 3:
		return true, min(0.95, 0.5+float64(score)*0.1)
	case score >= 1:
		return true, min(0.75, 0.3+float64(score)*0.1)
	default:
		return false, 0.1
	}
}
