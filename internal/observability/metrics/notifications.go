// Package metrics standardises metric emission for notification job and
// dispatch lifecycles.
package metrics

import (
	"time"

	obserrors "github.com/stagepass/notify/internal/observability/errors"
	"github.com/stagepass/notify/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// DispatchMetric captures one fan-out call's aggregate outcome.
type DispatchMetric struct {
	JobType          string
	Sent             int
	Failed           int
	InvalidEndpoints int
	Duration         time.Duration
}

// EmitDispatch emits per-dispatch delivery counters.
func EmitDispatch(sink statsd.Sink, in DispatchMetric) {
	if sink == nil {
		return
	}

	var tags map[string]string
	if in.JobType != "" {
		tags = map[string]string{"job_type": in.JobType}
	}
	sink.Count("dispatch.sent", int64(in.Sent), tags)
	sink.Count("dispatch.failed", int64(in.Failed), CloneTags(tags))
	if in.InvalidEndpoints > 0 {
		sink.Count("dispatch.invalid_endpoints", int64(in.InvalidEndpoints), CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("dispatch.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
