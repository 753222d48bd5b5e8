//go:build integration

package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jonathan/company-researcher/internal/events"
	"github.com/jonathan/company-researcher/internal/jobs"
	"github.com/jonathan/company-researcher/internal/types"
)

func getTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("Failed to ensure schema: %v", err)
	}
	return db
}

func TestIntegration_Job_CRUD(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	manager := jobs.NewManager()
	job := manager.Create(types.JobInput{
		Company:    "Integration Test Co",
		CompanyURL: "https://integration.example.com",
		Industry:   "Testing",
	})
	defer db.DeleteJob(ctx, job.ID)

	t.Run("save and reload", func(t *testing.T) {
		if err := db.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}

		got, err := db.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if got == nil {
			t.Fatal("GetJob returned nil for saved job")
		}
		if got.Input.Company != job.Input.Company {
			t.Errorf("Company = %q, want %q", got.Input.Company, job.Input.Company)
		}
		if got.Phase != jobs.PhasePending {
			t.Errorf("Phase = %q, want pending", got.Phase)
		}
	})

	t.Run("upsert on phase change", func(t *testing.T) {
		if err := manager.Advance(job.ID, jobs.PhaseSearching); err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
		updated, _ := manager.Get(job.ID)
		if err := db.SaveJob(ctx, updated); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}

		got, err := db.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if got.Phase != jobs.PhaseSearching {
			t.Errorf("Phase = %q, want searching", got.Phase)
		}
	})

	t.Run("list with filters", func(t *testing.T) {
		got, err := db.ListJobs(ctx, JobFilters{Company: "Integration Test"})
		if err != nil {
			t.Fatalf("ListJobs failed: %v", err)
		}
		found := false
		for _, s := range got {
			if s.ID == job.ID {
				found = true
			}
		}
		if !found {
			t.Error("saved job missing from filtered listing")
		}
	})

	t.Run("unknown job is nil", func(t *testing.T) {
		got, err := db.GetJob(ctx, "no-such-job")
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if got != nil {
			t.Error("expected nil for unknown job")
		}
	})
}

func TestIntegration_Events_AppendAndReplay(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	manager := jobs.NewManager()
	job := manager.Create(types.JobInput{Company: "Event Test Co"})
	defer db.DeleteJob(ctx, job.ID)

	if err := db.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	broadcaster := events.NewBroadcaster(0)
	payloads := []events.Payload{
		events.Processing{Phase: "searching"},
		events.QueryGenerated{Category: types.CategoryCompany, Query: "event test co overview"},
		events.DocumentFound{Category: types.CategoryCompany, URL: "https://example.com/a", Score: 0.9, New: true},
	}
	for _, p := range payloads {
		ev, err := broadcaster.Publish(job.ID, p)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if err := db.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
		// Saving the same event twice must be idempotent.
		if err := db.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("duplicate SaveEvent failed: %v", err)
		}
	}

	got, err := db.LoadEvents(ctx, job.ID)
	if err != nil {
		t.Fatalf("LoadEvents failed: %v", err)
	}
	if len(got) != len(payloads) {
		t.Fatalf("loaded %d events, want %d", len(got), len(payloads))
	}
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
		if ev.Payload != payloads[i] {
			t.Errorf("event %d payload = %#v, want %#v", i, ev.Payload, payloads[i])
		}
	}
}

func TestIntegration_Report_SaveAndGet(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()

	manager := jobs.NewManager()
	job := manager.Create(types.JobInput{Company: "Report Test Co"})
	defer db.DeleteJob(ctx, job.ID)

	if err := db.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	const report = "## Report Test Co\n\nFindings."
	if err := db.SaveReport(ctx, job.ID, report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	got, err := db.GetReport(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if got != report {
		t.Errorf("GetReport = %q, want %q", got, report)
	}

	missing, err := db.GetReport(ctx, "no-such-job")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if missing != "" {
		t.Error("expected empty report for unknown job")
	}
}
