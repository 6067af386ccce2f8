package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := NewCaptionClassifier()

	tests := []struct {
		name      string
		caption   string
		wantEvent bool
		wantScore float64
	}{
		{
			name:      "empty caption",
			caption:   "",
			wantEvent: false,
			wantScore: 0.0,
		},
		{
			name:      "no keywords",
			caption:   "beautiful sunset at the beach",
			wantEvent: false,
			wantScore: 0.1,
		},
		{
			// "concert" + "ticket" = 2 hits
			name:      "tentative match",
			caption:   "concert tickets on sale now",
			wantEvent: true,
			wantScore: 0.5,
		},
		{
			// "show" + "live music" + "june" + "doors open" = 4 hits
			name:      "confident match",
			caption:   "Live music show June 14, doors open 8pm",
			wantEvent: true,
			wantScore: 0.9,
		},
		{
			name:      "single keyword",
			caption:   "new poster just dropped",
			wantEvent: true,
			wantScore: 0.4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isEvent, confidence := c.Classify(tt.caption)
			assert.Equal(t, tt.wantEvent, isEvent)
			assert.InDelta(t, tt.wantScore, confidence, 0.001)
		})
	}
}

func TestClassifyConfidenceCaps(t *testing.T) {
	c := NewCaptionClassifier()

	// Stack enough keywords that the raw score would push past the cap
	isEvent, confidence := c.Classify(
		"festival concert show party gala exhibition market fair live music doors open june")
	assert.True(t, isEvent)
	assert.InDelta(t, 0.95, confidence, 0.001)
}

func TestClassifyCaseInsensitive(t *testing.T) {
	c := NewCaptionClassifier()

	lower, confLower := c.Classify("save the date: may gala")
	upper, confUpper := c.Classify("SAVE THE DATE: MAY GALA")
	assert.Equal(t, lower, upper)
	assert.InDelta(t, confLower, confUpper, 0.001)
}
