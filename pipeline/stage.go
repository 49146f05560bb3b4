// Package pipeline contains the stage machine, job payload schemas, the
// error taxonomy, the domain store, and the eight job handlers that drive a
// project from upload to publish.
package pipeline

// Stage is a project's position in the pipeline. Stages form a total order
// and only ever move forward.
type Stage string

const (
	StageUploaded       Stage = "UPLOADED"
	StageTranscribed    Stage = "TRANSCRIBED"
	StageClipsGenerated Stage = "CLIPS_GENERATED"
	StageRendered       Stage = "RENDERED"
	StagePublished      Stage = "PUBLISHED"
)

var stageOrder = []Stage{
	StageUploaded,
	StageTranscribed,
	StageClipsGenerated,
	StageRendered,
	StagePublished,
}

func stageRank(s Stage) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValidStage reports whether s is a known pipeline stage.
func IsValidStage(s Stage) bool {
	return stageRank(s) >= 0
}

// IsAtLeast reports whether cur has reached target in the stage order.
// Unknown stages are never "at least" anything.
func IsAtLeast(cur, target Stage) bool {
	c, t := stageRank(cur), stageRank(target)
	return c >= 0 && t >= 0 && c >= t
}

// NextAfter returns the stage following cur, or "" when cur is terminal
// or unknown.
func NextAfter(cur Stage) Stage {
	r := stageRank(cur)
	if r < 0 || r+1 >= len(stageOrder) {
		return ""
	}
	return stageOrder[r+1]
}

// stagesBelow returns every stage strictly before target; used as the guard
// set in conditional stage updates.
func stagesBelow(target Stage) []Stage {
	r := stageRank(target)
	if r <= 0 {
		return nil
	}
	out := make([]Stage, r)
	copy(out, stageOrder[:r])
	return out
}
