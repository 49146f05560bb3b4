package pipeline

import (
	"math"
	"strings"
)

// Highlight detection constants.
const (
	minCandidateSeconds = 10.0 // runs shorter than this are rejected
	maxCandidateSeconds = 60.0 // candidates are capped at one minute
	nearDuplicateWindow = 1.5  // seconds; see Consolidate
	defaultConfidence   = 0.75 // segments without a confidence score
	absoluteClipCeiling = 30
	maxTitleLength      = 80
)

// Candidate is one proposed highlight interval before consolidation.
type Candidate struct {
	StartS        float64
	EndS          float64
	AvgConfidence float64
	KeywordHits   int
	Score         float64
	Title         string
}

// Duration returns the candidate length in seconds.
func (c Candidate) Duration() float64 { return c.EndS - c.StartS }

// Interval is an occupied time span, used for overlap checks against clips
// already persisted.
type Interval struct {
	StartS float64
	EndS   float64
}

// ComputeMaxClips derives the clip budget for one detection run from the
// video duration, the workspace plan, and an optional request override.
// Non-decreasing in duration up to the absolute ceiling of 30.
func ComputeMaxClips(durationMs int64, plan PlanLimits, override *float64) int {
	minutes := float64(durationMs) / 60000.0

	softCap := plan.ClipsPerMonth / 20
	if softCap < 3 {
		softCap = 3
	}

	var baseline int
	switch {
	case minutes <= 1:
		baseline = 2
	case minutes <= 5:
		baseline = minInt(6, 2+int(minutes))
	case minutes <= 15:
		baseline = minInt(10, 6+int((minutes-5)/2))
	default:
		baseline = minInt(softCap, 10+int((minutes-15)/5))
	}

	n := baseline
	if override != nil {
		v := *override
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0 {
			n = int(math.Floor(v))
		}
	}

	n = minInt(n, plan.ClipsPerProject)
	n = minInt(n, softCap)
	n = minInt(n, absoluteClipCeiling)
	if n < 1 {
		n = 1
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// BuildCandidates groups transcript segments into runs separated by silence
// gaps longer than minGapSec and scores each run against the requested
// keywords.
func BuildCandidates(segments []TranscriptSegment, keywords []string, minGapSec float64) []Candidate {
	if len(segments) == 0 {
		return nil
	}

	var runs [][]TranscriptSegment
	current := []TranscriptSegment{segments[0]}
	for _, seg := range segments[1:] {
		prev := current[len(current)-1]
		if seg.Start-prev.End > minGapSec {
			runs = append(runs, current)
			current = []TranscriptSegment{seg}
			continue
		}
		current = append(current, seg)
	}
	runs = append(runs, current)

	var candidates []Candidate
	for _, run := range runs {
		start := run[0].Start
		end := run[len(run)-1].End
		if end > start+maxCandidateSeconds {
			end = start + maxCandidateSeconds
		}
		if end-start < minCandidateSeconds {
			continue
		}

		var (
			confSum float64
			texts   []string
		)
		for _, seg := range run {
			if seg.Confidence != nil {
				confSum += *seg.Confidence
			} else {
				confSum += defaultConfidence
			}
			texts = append(texts, seg.Text)
		}
		avgConfidence := confSum / float64(len(run))
		text := strings.Join(texts, " ")

		hits, firstHit := countKeywordHits(text, keywords)
		candidates = append(candidates, Candidate{
			StartS:        start,
			EndS:          end,
			AvgConfidence: avgConfidence,
			KeywordHits:   hits,
			Score:         float64(hits) + avgConfidence,
			Title:         deriveTitle(text, firstHit),
		})
	}
	return candidates
}

// countKeywordHits counts requested keywords present (case-insensitive) in
// the text and returns the first one that matched.
func countKeywordHits(text string, keywords []string) (int, string) {
	lower := strings.ToLower(text)
	hits := 0
	first := ""
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
			if first == "" {
				first = kw
			}
		}
	}
	return hits, first
}

// deriveTitle takes the first sentence of the run text, falling back to the
// matched keyword, then to "Highlight".
func deriveTitle(text, keyword string) string {
	sentence := strings.TrimSpace(text)
	if i := strings.IndexAny(sentence, ".!?"); i > 0 {
		sentence = sentence[:i]
	}
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		sentence = strings.TrimSpace(keyword)
	}
	if sentence == "" {
		return "Highlight"
	}
	if len(sentence) > maxTitleLength {
		sentence = strings.TrimSpace(sentence[:maxTitleLength])
	}
	return sentence
}

// Consolidate turns raw candidates into the persisted clip set: sort by
// (score desc, duration asc), then greedily keep candidates that neither
// overlap nor near-duplicate anything already kept or existing, stopping at
// maxClips. Output intervals are strictly non-overlapping.
func Consolidate(candidates []Candidate, existing []Interval, maxClips int) []Candidate {
	if maxClips < 1 || len(candidates) == 0 {
		return nil
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	// Insertion sort keeps the (score desc, duration asc) order stable.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && candidateLess(sorted[j], sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	occupied := make([]Interval, len(existing))
	copy(occupied, existing)

	var kept []Candidate
	for _, cand := range sorted {
		if len(kept) >= maxClips {
			break
		}
		if conflicts(cand, occupied) {
			continue
		}
		kept = append(kept, cand)
		occupied = append(occupied, Interval{StartS: cand.StartS, EndS: cand.EndS})
	}
	return kept
}

func candidateLess(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Duration() < b.Duration()
}

// conflicts reports whether cand overlaps or near-duplicates any occupied
// interval. Near-duplicate means the start falls within the window of an
// occupied start; matching ends alone are allowed.
func conflicts(cand Candidate, occupied []Interval) bool {
	for _, iv := range occupied {
		if cand.StartS < iv.EndS && iv.StartS < cand.EndS {
			return true
		}
		if math.Abs(cand.StartS-iv.StartS) <= nearDuplicateWindow {
			return true
		}
	}
	return false
}
