// Package events defines the append-only research job event log and its
// fan-out broadcaster. Every observable state change in a job is one
// Event; events are totally ordered per job by sequence number and are
// never mutated or reordered after publication.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonathan/company-researcher/internal/types"
)

// Type discriminates event payloads.
type Type string

// Event types, in rough pipeline order.
const (
	TypeQueryGenerating  Type = "query_generating"
	TypeQueryGenerated   Type = "query_generated"
	TypeDocumentFound    Type = "document_found"
	TypeCategoryStart    Type = "category_start"
	TypeDocumentKept     Type = "document_kept"
	TypeCurationComplete Type = "curation_complete"
	TypeExtracted        Type = "extracted"
	TypeExtractionError  Type = "extraction_error"
	TypeCategoryComplete Type = "category_complete"
	TypeBriefingStart    Type = "briefing_start"
	TypeBriefingComplete Type = "briefing_complete"
	TypeReportChunk      Type = "report_chunk"
	TypeProcessing       Type = "processing"
	TypeSnapshot         Type = "snapshot"
	TypeCompleted        Type = "completed"
	TypeFailed           Type = "failed"
)

// Terminal reports whether the type ends a job's event log.
func (t Type) Terminal() bool {
	return t == TypeCompleted || t == TypeFailed
}

// Payload is the typed body of an event. Exactly one concrete payload
// struct exists per Type.
type Payload interface {
	EventType() Type
}

// Emitter publishes a payload onto one job's event log. Pipeline stages
// receive an emitter already bound to their job.
type Emitter func(Payload)

// Event is one immutable record in a job's log. Seq is 1-based and
// strictly monotonic per job. Snapshot events are synthetic: they are
// delivered to a resyncing subscriber but never appended to the log, and
// carry the log position they summarize in Seq.
type Event struct {
	JobID     string    `json:"job_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`
	Payload   Payload   `json:"payload"`
}

// QueryGenerating signals that an analyzer asked the LLM for its next query.
type QueryGenerating struct {
	Category types.Category `json:"category"`
}

// QueryGenerated carries a query an analyzer is about to run.
type QueryGenerated struct {
	Category types.Category `json:"category"`
	Query    string         `json:"query"`
}

// DocumentFound reports a search result inserted into the document store.
type DocumentFound struct {
	Category types.Category `json:"category"`
	URL      string         `json:"url"`
	Title    string         `json:"title,omitempty"`
	Score    float64        `json:"score"`
	New      bool           `json:"new"`
}

// CategoryStart opens a category's curation pass.
type CategoryStart struct {
	Category types.Category `json:"category"`
	Initial  int            `json:"initial"`
}

// DocumentKept reports one document surviving curation, in score order.
type DocumentKept struct {
	Category types.Category `json:"category"`
	URL      string         `json:"url"`
	Score    float64        `json:"score"`
}

// CurationComplete closes a category's curation pass. Threshold is the
// effective threshold actually used, after any fallback lowering.
type CurationComplete struct {
	Category  types.Category `json:"category"`
	Initial   int            `json:"initial"`
	Kept      int            `json:"kept"`
	Threshold float64        `json:"threshold"`
}

// Extracted reports a successful full-content extraction.
type Extracted struct {
	Category types.Category `json:"category"`
	URL      string         `json:"url"`
	Chars    int            `json:"chars"`
}

// ExtractionError reports a failed extraction. The document is excluded
// from the category's enrichment denominator.
type ExtractionError struct {
	Category types.Category `json:"category"`
	URL      string         `json:"url"`
	Error    string         `json:"error"`
}

// CategoryComplete closes a category's enrichment once all in-flight
// extractions finish.
type CategoryComplete struct {
	Category types.Category `json:"category"`
	Total    int            `json:"total"`
	Enriched int            `json:"enriched"`
	Degraded bool           `json:"degraded,omitempty"`
}

// BriefingStart opens a category's summarization.
type BriefingStart struct {
	Category  types.Category `json:"category"`
	Documents int            `json:"documents"`
}

// BriefingComplete closes a category's summarization. Text carries the
// brief itself so the event log alone reconstructs job state.
type BriefingComplete struct {
	Category types.Category    `json:"category"`
	Status   types.BriefStatus `json:"status"`
	Text     string            `json:"text,omitempty"`
}

// ReportChunk carries one streamed chunk of the compiled report.
type ReportChunk struct {
	Chunk string `json:"chunk"`
}

// Processing is a coarse phase/progress announcement.
type Processing struct {
	Phase    string         `json:"phase"`
	Message  string         `json:"message,omitempty"`
	Category types.Category `json:"category,omitempty"`
}

// Snapshot is the full-state resync payload handed to a reconnecting
// subscriber instead of history replay.
type Snapshot struct {
	Phase   string                                  `json:"phase"`
	Counts  map[types.Category]types.CategoryCounts `json:"counts,omitempty"`
	Briefs  map[types.Category]types.BriefingRecord `json:"briefs,omitempty"`
	Result  string                                  `json:"result,omitempty"`
	Error   string                                  `json:"error,omitempty"`
	LastSeq uint64                                  `json:"last_seq"`
}

// Completed is the successful terminal event.
type Completed struct {
	Report string `json:"report"`
}

// Failed is the failure terminal event. Briefs completed before the
// failure are preserved, never discarded.
type Failed struct {
	Reason string                                  `json:"reason"`
	Briefs map[types.Category]types.BriefingRecord `json:"briefs,omitempty"`
}

// EventType implementations. One per payload, exhaustively.
func (QueryGenerating) EventType() Type  { return TypeQueryGenerating }
func (QueryGenerated) EventType() Type   { return TypeQueryGenerated }
func (DocumentFound) EventType() Type    { return TypeDocumentFound }
func (CategoryStart) EventType() Type    { return TypeCategoryStart }
func (DocumentKept) EventType() Type     { return TypeDocumentKept }
func (CurationComplete) EventType() Type { return TypeCurationComplete }
func (Extracted) EventType() Type        { return TypeExtracted }
func (ExtractionError) EventType() Type  { return TypeExtractionError }
func (CategoryComplete) EventType() Type { return TypeCategoryComplete }
func (BriefingStart) EventType() Type    { return TypeBriefingStart }
func (BriefingComplete) EventType() Type { return TypeBriefingComplete }
func (ReportChunk) EventType() Type      { return TypeReportChunk }
func (Processing) EventType() Type       { return TypeProcessing }
func (Snapshot) EventType() Type         { return TypeSnapshot }
func (Completed) EventType() Type        { return TypeCompleted }
func (Failed) EventType() Type           { return TypeFailed }

// eventJSON is the wire/storage shape of an Event.
type eventJSON struct {
	JobID     string          `json:"job_id"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event with its payload inline.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Type, err)
	}
	return json.Marshal(eventJSON{
		JobID:     e.JobID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		Type:      e.Type,
		Payload:   payload,
	})
}

// UnmarshalJSON decodes an event, dispatching on Type to reconstruct the
// concrete payload. Unknown types are an error so new event types cannot
// pass through consumers silently.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	payload, err := decodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}

	e.JobID = raw.JobID
	e.Seq = raw.Seq
	e.Timestamp = raw.Timestamp
	e.Type = raw.Type
	e.Payload = payload
	return nil
}

func decodePayload(t Type, data json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case TypeQueryGenerating:
		p = &QueryGenerating{}
	case TypeQueryGenerated:
		p = &QueryGenerated{}
	case TypeDocumentFound:
		p = &DocumentFound{}
	case TypeCategoryStart:
		p = &CategoryStart{}
	case TypeDocumentKept:
		p = &DocumentKept{}
	case TypeCurationComplete:
		p = &CurationComplete{}
	case TypeExtracted:
		p = &Extracted{}
	case TypeExtractionError:
		p = &ExtractionError{}
	case TypeCategoryComplete:
		p = &CategoryComplete{}
	case TypeBriefingStart:
		p = &BriefingStart{}
	case TypeBriefingComplete:
		p = &BriefingComplete{}
	case TypeReportChunk:
		p = &ReportChunk{}
	case TypeProcessing:
		p = &Processing{}
	case TypeSnapshot:
		p = &Snapshot{}
	case TypeCompleted:
		p = &Completed{}
	case TypeFailed:
		p = &Failed{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", t, err)
		}
	}
	return deref(p), nil
}

// deref returns the payload by value so published and decoded events
// compare equal.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *QueryGenerating:
		return *v
	case *QueryGenerated:
		return *v
	case *DocumentFound:
		return *v
	case *CategoryStart:
		return *v
	case *DocumentKept:
		return *v
	case *CurationComplete:
		return *v
	case *Extracted:
		return *v
	case *ExtractionError:
		return *v
	case *CategoryComplete:
		return *v
	case *BriefingStart:
		return *v
	case *BriefingComplete:
		return *v
	case *ReportChunk:
		return *v
	case *Processing:
		return *v
	case *Snapshot:
		return *v
	case *Completed:
		return *v
	case *Failed:
		return *v
	}
	return p
}
