package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Exit statuses of a collector run.
const (
	ExitOK           = 0
	ExitTotalFailure = 1
	ExitUsage        = 2
	ExitPartial      = 3
)

type Stage string

const (
	StageAggregate        Stage = "aggregate"
	StageGoodsPartners    Stage = "goods_partners"
	StageServicesPartners Stage = "services_partners"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// StageResult counts units of work of one stage. A unit is one artifact
// (or one country for services partners).
type StageResult struct {
	Stage    Stage
	Success  int
	Reused   int
	Failed   int
	Skipped  int
	Warnings []string
	Err      error
}

func (r *StageResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Status is ok when nothing failed, failed when nothing was produced or
// reused, partial otherwise.
func (r StageResult) Status() Status {
	switch {
	case r.Err != nil:
		return StatusFailed
	case r.Failed == 0:
		return StatusOK
	case r.Success+r.Reused == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

func (r StageResult) String() string {
	return fmt.Sprintf("stage=%s status=%s success=%d reused=%d failed=%d skipped=%d",
		r.Stage, r.Status(), r.Success, r.Reused, r.Failed, r.Skipped)
}

type Summary struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Stages   []StageResult
}

// ExitCode maps the stage outcomes onto the collector exit statuses.
func (s Summary) ExitCode() int {
	if len(s.Stages) == 0 {
		return ExitTotalFailure
	}
	failed := 0
	ok := 0
	for _, stage := range s.Stages {
		switch stage.Status() {
		case StatusOK:
			ok++
		case StatusFailed:
			failed++
		}
	}
	switch {
	case ok == len(s.Stages):
		return ExitOK
	case failed == len(s.Stages):
		return ExitTotalFailure
	default:
		return ExitPartial
	}
}

func (s Summary) Totals() (success, reused, failed, skipped int) {
	for _, stage := range s.Stages {
		success += stage.Success
		reused += stage.Reused
		failed += stage.Failed
		skipped += stage.Skipped
	}
	return success, reused, failed, skipped
}

func (s Summary) String() string {
	names := make([]string, 0, len(s.Stages))
	for _, stage := range s.Stages {
		names = append(names, string(stage.Stage))
	}
	success, reused, failed, skipped := s.Totals()
	return fmt.Sprintf("run=%s stages=%s success=%d reused=%d failed=%d skipped=%d duration=%s",
		s.RunID, strings.Join(names, ","), success, reused, failed, skipped,
		s.Finished.Sub(s.Started).Round(time.Millisecond))
}
