package snapshot

import (
	"fmt"
	"time"
)

// Label is a behavioral classification.
type Label string

const (
	LabelDistracted Label = "distracted"
	LabelEngaged    Label = "engaged"
	LabelIdle       Label = "idle"
	LabelLost       Label = "lost"
	LabelRushed     Label = "rushed"
)

// Labels is the label set in predictor output order.
var Labels = []Label{LabelDistracted, LabelEngaged, LabelIdle, LabelLost, LabelRushed}

// ArgMax returns the label with the highest score. Ties go to the earliest
// index. scores must have one entry per label.
func ArgMax(scores []float64) (Label, int, error) {
	if len(scores) != len(Labels) {
		return "", -1, fmt.Errorf("snapshot: got %d scores, want %d", len(scores), len(Labels))
	}
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return Labels[best], best, nil
}

// Classification is one inference result.
type Classification struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Label     Label     `json:"label"`
	Scores    []float64 `json:"scores"`
	At        time.Time `json:"at"`
	Window    int       `json:"window"` // number of vectors submitted
}
