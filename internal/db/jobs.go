package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/jobs"
)

// SaveJob upserts the job's current state. Called by the orchestrator
// after every phase change, so the row always reflects the live job.
func (db *DB) SaveJob(ctx context.Context, job jobs.Job) error {
	counts, err := json.Marshal(job.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}
	briefs, err := json.Marshal(job.Briefs)
	if err != nil {
		return fmt.Errorf("failed to marshal briefs: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO research_jobs (id, company, company_url, industry, hq_location, phase, error, counts, briefs, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   phase = $6, error = $7, counts = $8, briefs = $9, updated_at = NOW()`,
		job.ID, job.Input.Company, nullIfEmpty(job.Input.CompanyURL),
		nullIfEmpty(job.Input.Industry), nullIfEmpty(job.Input.HQLocation),
		string(job.Phase), nullIfEmpty(job.Error), counts, briefs, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID, nil when absent. The Result field is
// loaded from the reports table only on demand via GetReport.
func (db *DB) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	var (
		job            jobs.Job
		companyURL     *string
		industry       *string
		hqLocation     *string
		jobError       *string
		counts, briefs []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, company, company_url, industry, hq_location, phase, error, counts, briefs, created_at
		 FROM research_jobs WHERE id = $1`,
		id,
	).Scan(&job.ID, &job.Input.Company, &companyURL, &industry, &hqLocation,
		(*string)(&job.Phase), &jobError, &counts, &briefs, &job.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if companyURL != nil {
		job.Input.CompanyURL = *companyURL
	}
	if industry != nil {
		job.Input.Industry = *industry
	}
	if hqLocation != nil {
		job.Input.HQLocation = *hqLocation
	}
	if jobError != nil {
		job.Error = *jobError
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &job.Counts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal counts: %w", err)
		}
	}
	if len(briefs) > 0 {
		if err := json.Unmarshal(briefs, &job.Briefs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal briefs: %w", err)
		}
	}
	return &job, nil
}

// JobSummary is a lightweight view of a job for listing
type JobSummary struct {
	ID        string    `json:"id"`
	Company   string    `json:"company"`
	Phase     string    `json:"phase"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// JobFilters holds optional filters for listing jobs
type JobFilters struct {
	Company string
	Phase   string
	Limit   int
}

// ListJobs retrieves recent jobs with optional filters
func (db *DB) ListJobs(ctx context.Context, filters JobFilters) ([]JobSummary, error) {
	if filters.Limit == 0 {
		filters.Limit = 50
	}

	query := `SELECT id, company, phase, COALESCE(error, ''), created_at
		FROM research_jobs WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Company != "" {
		query += fmt.Sprintf(" AND company ILIKE $%d", argNum)
		args = append(args, "%"+filters.Company+"%")
		argNum++
	}
	if filters.Phase != "" {
		query += fmt.Sprintf(" AND phase = $%d", argNum)
		args = append(args, filters.Phase)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, filters.Limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobSummary
	for rows.Next() {
		var s JobSummary
		if err := rows.Scan(&s.ID, &s.Company, &s.Phase, &s.Error, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// DeleteJob deletes a job and its events and report (via cascade)
func (db *DB) DeleteJob(ctx context.Context, id string) error {
	result, err := db.pool.Exec(ctx, `DELETE FROM research_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

// SaveEvent appends one event to the job's durable log. Re-saving the
// same sequence number is a no-op so replays after reconnect are safe.
func (db *DB) SaveEvent(ctx context.Context, ev events.Event) error {
	encoded, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO research_events (job_id, seq, event_type, event)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_id, seq) DO NOTHING`,
		ev.JobID, ev.Seq, string(ev.Type), encoded,
	)
	if err != nil {
		return fmt.Errorf("failed to save event %d: %w", ev.Seq, err)
	}
	return nil
}

// LoadEvents retrieves a job's full event log in sequence order.
func (db *DB) LoadEvents(ctx context.Context, jobID string) ([]events.Event, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT event FROM research_events WHERE job_id = $1 ORDER BY seq ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var encoded []byte
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev events.Event
		if err := json.Unmarshal(encoded, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// SaveReport stores the compiled report for a completed job.
func (db *DB) SaveReport(ctx context.Context, jobID, report string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO research_reports (job_id, report)
		 VALUES ($1, $2)
		 ON CONFLICT (job_id) DO UPDATE SET report = $2, created_at = NOW()`,
		jobID, report,
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// GetReport retrieves a job's compiled report, empty when absent.
func (db *DB) GetReport(ctx context.Context, jobID string) (string, error) {
	var report string
	err := db.pool.QueryRow(ctx,
		`SELECT report FROM research_reports WHERE job_id = $1`,
		jobID,
	).Scan(&report)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// RestoreJob reconstructs a job's in-memory state from the durable
// event log, falling back to the job row when the log is empty.
func (db *DB) RestoreJob(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := db.GetJob(ctx, id)
	if err != nil || job == nil {
		return job, err
	}

	log, err := db.LoadEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(log) == 0 {
		return job, nil
	}

	replayed := jobs.ReplayJob(id, log)
	replayed.Input = job.Input
	replayed.CreatedAt = job.CreatedAt
	return &replayed, nil
}

// ensure the orchestrator contract stays satisfied
var _ interface {
	SaveJob(context.Context, jobs.Job) error
	SaveEvent(context.Context, events.Event) error
	SaveReport(context.Context, string, string) error
} = (*DB)(nil)

// PhaseCounts aggregates jobs by phase for the health endpoint.
func (db *DB) PhaseCounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT phase, COUNT(*) FROM research_jobs GROUP BY phase`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var phase string
		var count int
		if err := rows.Scan(&phase, &count); err != nil {
			return nil, err
		}
		counts[phase] = count
	}
	return counts, nil
}
