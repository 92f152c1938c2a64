package bulkbrev

import (
	"time"
)

type JobStatus string

func (s JobStatus) String() string {
	return string(s)
}

// Terminal is true for statuses no job ever leaves
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// JobProcessing the job has been accepted and recipients are being dispatched
const JobProcessing JobStatus = "processing"

// JobCompleted every recipient has been attempted, individual recipients may still have failed
const JobCompleted JobStatus = "completed"

// JobError the dispatch itself broke down, eg. the transport was unreachable
const JobError JobStatus = "error"

type OutcomeStatus string

func (s OutcomeStatus) String() string {
	return string(s)
}

// OutcomeSent the transport accepted the message for the recipient
const OutcomeSent OutcomeStatus = "sent"

// OutcomeFailed the transport refused or could not deliver to the recipient
const OutcomeFailed OutcomeStatus = "failed"

// Outcome is the result of one send attempt to one recipient
type Outcome struct {
	Email     string        `json:"email"`
	Status    OutcomeStatus `json:"status"`
	MessageId string        `json:"messageId,omitempty"`
	Error     string        `json:"error,omitempty"`
	TID       string        `json:"tid,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Job is the tracked state of one bulk send
type Job struct {
	Id            string     `json:"requestId"`
	Status        JobStatus  `json:"status"`
	Total         int        `json:"total"`
	Processed     int        `json:"processed"`
	Successful    int        `json:"successful"`
	Failed        int        `json:"failed"`
	Results       []Outcome  `json:"results"`
	StartTime     time.Time  `json:"startTime"`
	CompletedTime *time.Time `json:"completedTime,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Clone returns a copy that shares no memory with j
func (j Job) Clone() Job {
	c := j
	c.Results = append(make([]Outcome, 0, len(j.Results)), j.Results...)
	if j.CompletedTime != nil {
		t := *j.CompletedTime
		c.CompletedTime = &t
	}
	return c
}
