package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/modfin/bulkbrev"
)

// Patch is a set of field overwrites, nil fields are left as they are
type Patch struct {
	Status        *bulkbrev.JobStatus
	Processed     *int
	Successful    *int
	Failed        *int
	Results       []bulkbrev.Outcome
	CompletedTime *time.Time
	Error         *string
}

func ptr[T any](v T) *T {
	return &v
}

// Progress reports the running tally of a job that is still processing
func Progress(processed, successful, failed int, results []bulkbrev.Outcome) Patch {
	return Patch{
		Processed:  ptr(processed),
		Successful: ptr(successful),
		Failed:     ptr(failed),
		Results:    results,
	}
}

// Completed finishes a job where every recipient has been attempted
func Completed(successful, failed int, results []bulkbrev.Outcome, at time.Time) Patch {
	return Patch{
		Status:        ptr(bulkbrev.JobCompleted),
		Processed:     ptr(successful + failed),
		Successful:    ptr(successful),
		Failed:        ptr(failed),
		Results:       results,
		CompletedTime: ptr(at),
	}
}

// Errored finishes a job whose dispatch broke down, the progress so far is kept
func Errored(err error, at time.Time) Patch {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Patch{
		Status:        ptr(bulkbrev.JobError),
		Error:         ptr(msg),
		CompletedTime: ptr(at),
	}
}

func (p Patch) apply(cur bulkbrev.Job) (bulkbrev.Job, error) {
	next := cur.Clone()

	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.Processed != nil {
		next.Processed = *p.Processed
	}
	if p.Successful != nil {
		next.Successful = *p.Successful
	}
	if p.Failed != nil {
		next.Failed = *p.Failed
	}
	if p.Results != nil {
		next.Results = append(make([]bulkbrev.Outcome, 0, len(p.Results)), p.Results...)
	}
	if p.CompletedTime != nil {
		t := *p.CompletedTime
		next.CompletedTime = &t
	}
	if p.Error != nil {
		next.Error = *p.Error
	}

	return next, validate(cur, next)
}

func validate(cur, next bulkbrev.Job) error {
	switch next.Status {
	case bulkbrev.JobProcessing, bulkbrev.JobCompleted, bulkbrev.JobError:
	default:
		return fmt.Errorf("unknown status %q", next.Status)
	}
	if next.Processed < 0 || next.Successful < 0 || next.Failed < 0 {
		return errors.New("counters must not be negative")
	}
	if next.Processed != next.Successful+next.Failed {
		return fmt.Errorf("processed %d is not successful %d + failed %d", next.Processed, next.Successful, next.Failed)
	}
	if next.Processed > next.Total {
		return fmt.Errorf("processed %d exceeds total %d", next.Processed, next.Total)
	}
	if next.Processed < cur.Processed {
		return fmt.Errorf("processed must not decrease, %d -> %d", cur.Processed, next.Processed)
	}
	if len(next.Results) != next.Processed {
		return fmt.Errorf("got %d results for %d processed", len(next.Results), next.Processed)
	}
	if next.Status == bulkbrev.JobCompleted && next.Processed != next.Total {
		return fmt.Errorf("completed with %d of %d processed", next.Processed, next.Total)
	}
	if next.Status.Terminal() != (next.CompletedTime != nil) {
		return errors.New("completed time is set exactly when the job is finished")
	}
	if (next.Status == bulkbrev.JobError) != (next.Error != "") {
		return errors.New("error is set exactly when the job failed")
	}
	return nil
}
