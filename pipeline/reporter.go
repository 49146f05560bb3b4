package pipeline

import "go.uber.org/zap"

// LogReporter reports internal errors to the structured log. Deployments
// with an alerting sink swap in their own ErrorReporter.
type LogReporter struct {
	Log *zap.SugaredLogger
}

var _ ErrorReporter = (*LogReporter)(nil)

func (r *LogReporter) Report(err error, fields map[string]interface{}) {
	kv := make([]interface{}, 0, 2+2*len(fields))
	kv = append(kv, "error", err)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	r.Log.Errorw("Internal pipeline error", kv...)
}
