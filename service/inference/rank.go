package inference

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/khaledhikmat/vs-classifier/model"
	"golang.org/x/xerrors"
)

func softmax(scores []float32) []float32 {
	if len(scores) == 0 {
		return nil
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	out := make([]float32, len(scores))
	var sum float64
	for i, s := range scores {
		e := math.Exp(float64(s - maxScore))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}

	return out
}

// rank returns up to topK candidates ordered by descending confidence.
// Scores below threshold are dropped; topK <= 0 keeps everything.
func rank(labels []string, scores []float32, topK int, threshold float32) []model.Candidate {
	candidates := make([]model.Candidate, 0, len(scores))
	for i, s := range scores {
		if s < threshold {
			continue
		}
		candidates = append(candidates, model.Candidate{
			Label:      labelAt(labels, i),
			Confidence: s,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}

	return candidates
}

func labelAt(labels []string, i int) string {
	if i < len(labels) {
		return labels[i]
	}
	return fmt.Sprintf("class_%d", i)
}

// loadLabels reads one label per line. Line i names output index i.
func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read labels %s: %w", path, err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, xerrors.Errorf("labels file %s is empty", path)
	}

	labels := strings.Split(content, "\n")
	for i := range labels {
		labels[i] = strings.TrimSpace(labels[i])
	}

	return labels, nil
}
