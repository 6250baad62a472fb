package models

import "time"

// BackendKind says which backend produced an answer or is active.
type BackendKind string

const (
	BackendRemote   BackendKind = "remote"
	BackendFallback BackendKind = "fallback"
)

// AnswerRecord is one entry of the answer history. Durations serialize as nanoseconds.
type AnswerRecord struct {
	ID                 string        `json:"id"`
	Query              string        `json:"query"`
	Answer             string        `json:"answer"`
	Sources            Bundle        `json:"sources"`
	RetrievalDuration  time.Duration `json:"retrieval_duration"`
	GenerationDuration time.Duration `json:"generation_duration"`
	BackendUsed        BackendKind   `json:"backend"`
	Timestamp          time.Time     `json:"timestamp"`
}

// Clone returns a copy of r that shares no slices with it.
func (r *AnswerRecord) Clone() *AnswerRecord {
	c := *r
	if r.Sources != nil {
		c.Sources = append(Bundle(nil), r.Sources...)
	}
	return &c
}
