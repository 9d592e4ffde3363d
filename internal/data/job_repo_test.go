package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-ui-api/internal/data/pgxutil"
	"github.com/target/mmk-ui-api/internal/domain/model"
	"github.com/target/mmk-ui-api/internal/testutil"
)

func TestJobRepo_Create(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	tests := []struct {
		name    string
		req     *model.CreateJobRequest
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid job creation",
			req: &model.CreateJobRequest{
				Type:     model.JobTypeRunRule,
				Payload:  json.RawMessage(`{"ruleId": "rule-1", "trigger": "manual"}`),
				Priority: 50,
			},
			wantErr: false,
		},
		{
			name: "job with metadata",
			req: &model.CreateJobRequest{
				Type:     model.JobTypeAlertDispatch,
				Payload:  json.RawMessage(`{"alertId": "alert-1", "channels": ["email"], "dedupeKey": "dedupe-1"}`),
				Metadata: json.RawMessage(`{"source": "api"}`),
				Priority: 75,
			},
			wantErr: false,
		},
		{
			name: "job with scheduled time",
			req: &model.CreateJobRequest{
				Type:        model.JobTypeRunRule,
				Payload:     json.RawMessage(`{"ruleId": "rule-2", "trigger": "scheduled"}`),
				Priority:    25,
				ScheduledAt: timePtr(time.Now().Add(time.Hour)),
				MaxRetries:  5,
			},
			wantErr: false,
		},
		{
			name: "invalid job type",
			req: &model.CreateJobRequest{
				Type:    "invalid",
				Payload: json.RawMessage(`{"test": true}`),
			},
			wantErr: true,
			errMsg:  "invalid job type",
		},
		{
			name: "empty payload",
			req: &model.CreateJobRequest{
				Type:    model.JobTypeRunRule,
				Payload: json.RawMessage(``),
			},
			wantErr: true,
			errMsg:  "payload is required",
		},
		{
			name: "invalid priority",
			req: &model.CreateJobRequest{
				Type:     model.JobTypeRunRule,
				Payload:  json.RawMessage(`{"test": true}`),
				Priority: 150,
			},
			wantErr: true,
			errMsg:  "priority must be between 0 and 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.WithAutoDB(t, func(db *sql.DB) {
				repo := NewJobRepo(db, RepoConfig{})

				job, err := repo.Create(context.Background(), tt.req)

				if tt.wantErr {
					require.Error(t, err)
					assert.Contains(t, err.Error(), tt.errMsg)
					assert.Nil(t, job)
					return
				}

				require.NoError(t, err)
				require.NotNil(t, job)

				// Verify job fields
				assert.NotEmpty(t, job.ID)
				assert.Equal(t, tt.req.Type, job.Type)
				assert.Equal(t, model.JobStatusPending, job.Status)
				assert.Equal(t, tt.req.Priority, job.Priority)
				assert.Equal(t, tt.req.Payload, job.Payload)
				assert.Equal(t, 0, job.RetryCount)
				assert.NotZero(t, job.CreatedAt)
				assert.NotZero(t, job.UpdatedAt)

				// Verify optional fields
				if tt.req.Metadata != nil {
					assert.Equal(t, tt.req.Metadata, job.Metadata)
				} else {
					assert.JSONEq(t, `{}`, string(job.Metadata))
				}
				if tt.req.MaxRetries > 0 {
					assert.Equal(t, tt.req.MaxRetries, job.MaxRetries)
				} else {
					assert.Equal(t, 3, job.MaxRetries) // default
				}
			})
		})
	}
}

func TestJobRepo_Create_DeterministicIDCollapsesWithinWindow(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		id := "7b1f7e1a-9b9d-4a6e-8a7a-4f6f6b0f2b11"

		first, err := repo.Create(context.Background(), &model.CreateJobRequest{
			ID:      id,
			Type:    model.JobTypeAlertDispatch,
			Payload: json.RawMessage(`{"alertId": "alert-1", "channels": ["email"], "dedupeKey": "dedupe-1"}`),
		})
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, id, first.ID)

		second, err := repo.Create(context.Background(), &model.CreateJobRequest{
			ID:      id,
			Type:    model.JobTypeAlertDispatch,
			Payload: json.RawMessage(`{"alertId": "alert-1", "channels": ["webhook"], "dedupeKey": "dedupe-1"}`),
		})
		require.NoError(t, err)
		assert.Nil(t, second, "second enqueue with the same id should collapse, not duplicate")

		stats, err := repo.Stats(context.Background(), model.JobTypeAlertDispatch)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Pending)
	})
}

func TestJobRepo_ReserveNext(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	tests := []struct {
		name         string
		jobType      model.JobType
		leaseSeconds int
		setupJobs    []*model.CreateJobRequest
		wantJob      bool
		wantErr      bool
	}{
		{
			name:         "reserve available job",
			jobType:      model.JobTypeRunRule,
			leaseSeconds: 30,
			setupJobs: []*model.CreateJobRequest{
				{
					Type:     model.JobTypeRunRule,
					Payload:  json.RawMessage(`{"url": "https://example.com"}`),
					Priority: 50,
				},
			},
			wantJob: true,
			wantErr: false,
		},
		{
			name:         "no jobs available",
			jobType:      model.JobTypeRunRule,
			leaseSeconds: 30,
			setupJobs:    []*model.CreateJobRequest{},
			wantJob:      false,
			wantErr:      true,
		},
		{
			name:         "reserve highest priority job",
			jobType:      model.JobTypeRunRule,
			leaseSeconds: 30,
			setupJobs: []*model.CreateJobRequest{
				{
					Type:     model.JobTypeRunRule,
					Payload:  json.RawMessage(`{"priority": "low"}`),
					Priority: 25,
				},
				{
					Type:     model.JobTypeRunRule,
					Payload:  json.RawMessage(`{"priority": "high"}`),
					Priority: 75,
				},
			},
			wantJob: true,
			wantErr: false,
		},
		{
			name:         "invalid job type",
			jobType:      "invalid",
			leaseSeconds: 30,
			setupJobs:    []*model.CreateJobRequest{},
			wantJob:      false,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.WithAutoDB(t, func(db *sql.DB) {
				repo := NewJobRepo(db, RepoConfig{})

				// Setup test jobs
				var createdJobs []*model.Job
				for _, req := range tt.setupJobs {
					job, err := repo.Create(context.Background(), req)
					require.NoError(t, err)
					createdJobs = append(createdJobs, job)
				}

				// Test ReserveNext
				job, err := repo.ReserveNext(context.Background(), tt.jobType, tt.leaseSeconds)

				if tt.wantErr {
					require.Error(t, err)
					if !tt.wantJob && tt.name != "invalid job type" {
						require.ErrorIs(t, err, model.ErrNoJobsAvailable)
					}
					return
				}

				require.NoError(t, err)
				require.NotNil(t, job)

				// Verify job was reserved
				assert.Equal(t, model.JobStatusRunning, job.Status)
				assert.NotNil(t, job.StartedAt)
				assert.NotNil(t, job.LeaseExpiresAt)

				// Verify lease duration
				expectedLease := time.Duration(tt.leaseSeconds) * time.Second
				actualLease := job.LeaseExpiresAt.Sub(*job.StartedAt)
				assert.InDelta(t, expectedLease.Seconds(), actualLease.Seconds(), 1.0)

				// If multiple jobs, verify highest priority was selected
				if len(createdJobs) > 1 {
					maxPriority := 0
					for _, created := range createdJobs {
						if created.Priority > maxPriority {
							maxPriority = created.Priority
						}
					}
					assert.Equal(t, maxPriority, job.Priority)
				}
			})
		})
	}
}

func TestJobRepo_Complete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		// Create and reserve a job
		req := &model.CreateJobRequest{
			Type:    model.JobTypeRunRule,
			Payload: json.RawMessage(`{"url": "https://example.com"}`),
		}
		job, err := repo.Create(context.Background(), req)
		require.NoError(t, err)

		_, err = repo.ReserveNext(context.Background(), model.JobTypeRunRule, 30)
		require.NoError(t, err)

		// Test completing the job
		success, err := repo.Complete(context.Background(), job.ID)
		require.NoError(t, err)
		assert.True(t, success)

		// Test completing non-existent job (use valid UUID format)
		success, err = repo.Complete(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.NoError(t, err)
		assert.False(t, success)
	})
}

func TestJobRepo_Fail(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{RetryDelaySeconds: 10})

		// Create and reserve a job
		req := &model.CreateJobRequest{
			Type:       model.JobTypeRunRule,
			Payload:    json.RawMessage(`{"url": "https://example.com"}`),
			MaxRetries: 2,
		}
		job, err := repo.Create(context.Background(), req)
		require.NoError(t, err)

		_, err = repo.ReserveNext(context.Background(), model.JobTypeRunRule, 30)
		require.NoError(t, err)

		// Test failing the job (should retry)
		success, err := repo.Fail(context.Background(), job.ID, "test error")
		require.NoError(t, err)
		assert.True(t, success)

		// Test failing non-existent job (use valid UUID format)
		success, err = repo.Fail(context.Background(), "00000000-0000-0000-0000-000000000000", "error")
		require.NoError(t, err)
		assert.False(t, success)
	})
}

func TestJobRepo_Heartbeat(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	tests := []struct {
		name         string
		setupJob     bool
		reserveJob   bool
		jobID        string
		leaseSeconds int
		wantSuccess  bool
	}{
		{
			name:         "successful heartbeat",
			setupJob:     true,
			reserveJob:   true,
			leaseSeconds: 60,
			wantSuccess:  true,
		},
		{
			name:         "heartbeat non-existent job",
			setupJob:     false,
			reserveJob:   false,
			jobID:        "00000000-0000-0000-0000-000000000000",
			leaseSeconds: 60,
			wantSuccess:  false,
		},
		{
			name:         "heartbeat pending job",
			setupJob:     true,
			reserveJob:   false,
			leaseSeconds: 60,
			wantSuccess:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.WithAutoDB(t, func(db *sql.DB) {
				repo := NewJobRepo(db, RepoConfig{})
				jobID := tt.jobID

				if tt.setupJob {
					req := &model.CreateJobRequest{
						Type:    model.JobTypeRunRule,
						Payload: json.RawMessage(`{"url": "https://example.com"}`),
					}
					job, err := repo.Create(context.Background(), req)
					require.NoError(t, err)
					jobID = job.ID

					if tt.reserveJob {
						_, err = repo.ReserveNext(context.Background(), model.JobTypeRunRule, 30)
						require.NoError(t, err)
					}
				}

				success, err := repo.Heartbeat(context.Background(), jobID, tt.leaseSeconds)
				require.NoError(t, err)
				assert.Equal(t, tt.wantSuccess, success)
			})
		})
	}
}

func TestJobRepo_Stats(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		// Create jobs with different priorities to control reservation order
		// ReserveNext picks jobs by priority (DESC), so we set priorities to control which job gets reserved first
		jobs := []struct {
			req    *model.CreateJobRequest
			action string
		}{
			{
				req: &model.CreateJobRequest{
					Type:     model.JobTypeRunRule,
					Payload:  json.RawMessage(`{"url": "https://pending.com"}`),
					Priority: 10, // Lowest priority - will be reserved last
				},
				action: "none", // stays pending
			},
			{
				req: &model.CreateJobRequest{
					Type:     model.JobTypeRunRule,
					Payload:  json.RawMessage(`{"url": "https://running.com"}`),
					Priority: 40, // Second highest - will be reserved second
				},
				action: "reserve",
			},
			{
				req: &model.CreateJobRequest{
					Type:     model.JobTypeRunRule,
					Payload:  json.RawMessage(`{"url": "https://completed.com"}`),
					Priority: 50, // Highest priority - will be reserved first
				},
				action: "complete",
			},
			{
				req: &model.CreateJobRequest{
					Type:       model.JobTypeRunRule,
					Payload:    json.RawMessage(`{"url": "https://failed.com"}`),
					Priority:   30, // Third highest - will be reserved third
					MaxRetries: 1,
				},
				action: "fail",
			},
		}

		// Create all jobs first
		var createdJobs []*model.Job
		for _, jobSetup := range jobs {
			job, err := repo.Create(context.Background(), jobSetup.req)
			require.NoError(t, err)
			createdJobs = append(createdJobs, job)
		}

		// Process jobs in the order they will be reserved (by priority: highest first)
		// Priority order: complete(50) -> reserve(40) -> fail(30) -> none(10)

		// 1. Complete job (priority 50) - will be reserved first
		reserved, err := repo.ReserveNext(context.Background(), model.JobTypeRunRule, 30)
		require.NoError(t, err)
		require.Equal(
			t,
			createdJobs[2].ID,
			reserved.ID,
			"Expected to reserve the complete job first (highest priority)",
		)
		_, err = repo.Complete(context.Background(), reserved.ID)
		require.NoError(t, err)

		// 2. Reserve job (priority 40) - will be reserved second
		reserved, err = repo.ReserveNext(context.Background(), model.JobTypeRunRule, 30)
		require.NoError(t, err)
		require.Equal(t, createdJobs[1].ID, reserved.ID, "Expected to reserve the reserve job second")
		// Leave this job in running state

		// 3. Fail job (priority 30) - will be reserved third
		reserved, err = repo.ReserveNext(context.Background(), model.JobTypeRunRule, 30)
		require.NoError(t, err)
		require.Equal(t, createdJobs[3].ID, reserved.ID, "Expected to reserve the fail job third")
		// With MaxRetries=1, the first failure should immediately mark it as failed
		_, err = repo.Fail(context.Background(), reserved.ID, "failure that exceeds max retries")
		require.NoError(t, err)

		// 4. Pending job (priority 10) - leave it pending (don't reserve it)

		// Get stats
		stats, err := repo.Stats(context.Background(), model.JobTypeRunRule)
		require.NoError(t, err)
		require.NotNil(t, stats)

		assert.Equal(t, 1, stats.Pending)
		assert.Equal(t, 1, stats.Running)
		assert.Equal(t, 1, stats.Completed)
		assert.Equal(t, 1, stats.Failed)
	})
}

func TestJobRepo_RequeueExpired(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		// Use a fixed time for testing
		fixedTime := testutil.TestTime()
		timeProvider := NewFixedTimeProvider(fixedTime)
		repo := NewJobRepo(db, RepoConfig{TimeProvider: timeProvider})

		// Create a job
		req := &model.CreateJobRequest{
			Type:    model.JobTypeRunRule,
			Payload: json.RawMessage(`{"url": "https://example.com"}`),
		}
		job, err := repo.Create(context.Background(), req)
		require.NoError(t, err)

		// Reserve it with a short lease
		reserved, err := repo.ReserveNext(context.Background(), model.JobTypeRunRule, 1)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reserved.ID)

		// Simulate time passing beyond lease expiration
		timeProvider.AddTime(2 * time.Second)

		// Requeue expired jobs
		count, err := repo.requeueExpired(context.Background(), model.JobTypeRunRule)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		// Verify job is back to pending
		requeued, err := repo.ReserveNext(context.Background(), model.JobTypeRunRule, 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, requeued.ID)
		assert.Equal(t, model.JobStatusRunning, requeued.Status)
	})
}

// TestPgxConversionFunctions tests the pgx transaction option conversion utilities.
func TestPgxConversionFunctions(t *testing.T) {
	t.Run("toPgxTxOptions", func(t *testing.T) {
		tests := []struct {
			name     string
			input    *sql.TxOptions
			expected pgx.TxOptions
		}{
			{
				name:  "nil options",
				input: nil,
				expected: pgx.TxOptions{
					IsoLevel:   pgx.TxIsoLevel(""),
					AccessMode: pgx.TxAccessMode(""),
				},
			},
			{
				name: "read committed, read-write",
				input: &sql.TxOptions{
					Isolation: sql.LevelReadCommitted,
					ReadOnly:  false,
				},
				expected: pgx.TxOptions{
					IsoLevel:   pgx.ReadCommitted,
					AccessMode: pgx.ReadWrite,
				},
			},
			{
				name: "serializable, read-only",
				input: &sql.TxOptions{
					Isolation: sql.LevelSerializable,
					ReadOnly:  true,
				},
				expected: pgx.TxOptions{
					IsoLevel:   pgx.Serializable,
					AccessMode: pgx.ReadOnly,
				},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result := pgxutil.ToPgxTxOptions(tt.input)
				assert.Equal(t, tt.expected.IsoLevel, result.IsoLevel)
				assert.Equal(t, tt.expected.AccessMode, result.AccessMode)
			})
		}
	})

	t.Run("toPgxIsoLevel", func(t *testing.T) {
		tests := []struct {
			input    sql.IsolationLevel
			expected pgx.TxIsoLevel
		}{
			{sql.LevelDefault, pgx.TxIsoLevel("")},
			{sql.LevelSerializable, pgx.Serializable},
			{sql.LevelLinearizable, pgx.Serializable},
			{sql.LevelRepeatableRead, pgx.RepeatableRead},
			{sql.LevelSnapshot, pgx.RepeatableRead},
			{sql.LevelReadCommitted, pgx.ReadCommitted},
			{sql.LevelWriteCommitted, pgx.ReadCommitted},
			{sql.LevelReadUncommitted, pgx.ReadUncommitted},
		}

		for _, tt := range tests {
			t.Run(string(tt.expected), func(t *testing.T) {
				result := pgxutil.ToPgxIsoLevel(tt.input)
				assert.Equal(t, tt.expected, result)
			})
		}
	})

	t.Run("toPgxAccessMode", func(t *testing.T) {
		assert.Equal(t, pgx.ReadWrite, pgxutil.ToPgxAccessMode(false))
		assert.Equal(t, pgx.ReadOnly, pgxutil.ToPgxAccessMode(true))
	})
}

func TestJobRepo_Delete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("delete pending job without lease", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, RepoConfig{})
			ctx := context.Background()

			// Create a pending job
			req := &model.CreateJobRequest{
				Type:    model.JobTypeRunRule,
				Payload: json.RawMessage(`{"url": "https://example.com"}`),
			}
			job, err := repo.Create(ctx, req)
			require.NoError(t, err)
			require.Equal(t, model.JobStatusPending, job.Status)
			require.Nil(t, job.LeaseExpiresAt)

			// Delete should succeed
			err = repo.Delete(ctx, job.ID)
			require.NoError(t, err)

			// Verify job is deleted
			_, err = repo.GetByID(ctx, job.ID)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrJobNotFound)
		})
	})

	t.Run("delete non-existent job", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, RepoConfig{})
			ctx := context.Background()

			// Try to delete a non-existent job
			err := repo.Delete(ctx, "00000000-0000-0000-0000-000000000000")
			require.Error(t, err)
			require.ErrorIs(t, err, ErrJobNotFound)
		})
	})

	t.Run("delete running job", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, RepoConfig{})
			ctx := context.Background()

			// Create and reserve a job (makes it running)
			req := &model.CreateJobRequest{
				Type:    model.JobTypeRunRule,
				Payload: json.RawMessage(`{"url": "https://example.com"}`),
			}
			job, err := repo.Create(ctx, req)
			require.NoError(t, err)

			// Reserve the job (transitions to running)
			_, err = repo.ReserveNext(ctx, model.JobTypeRunRule, 30)
			require.NoError(t, err)

			// Verify job is running
			runningJob, err := repo.GetByID(ctx, job.ID)
			require.NoError(t, err)
			require.Equal(t, model.JobStatusRunning, runningJob.Status)

			// Delete should fail
			err = repo.Delete(ctx, job.ID)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrJobNotDeletable)

			// Verify job still exists
			_, err = repo.GetByID(ctx, job.ID)
			require.NoError(t, err)
		})
	})

	t.Run("delete completed job", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, RepoConfig{})
			ctx := context.Background()

			// Create, reserve, and complete a job
			req := &model.CreateJobRequest{
				Type:    model.JobTypeRunRule,
				Payload: json.RawMessage(`{"url": "https://example.com"}`),
			}
			job, err := repo.Create(ctx, req)
			require.NoError(t, err)

			// Reserve and complete the job
			_, err = repo.ReserveNext(ctx, model.JobTypeRunRule, 30)
			require.NoError(t, err)
			_, err = repo.Complete(ctx, job.ID)
			require.NoError(t, err)

			// Verify job is completed
			completedJob, err := repo.GetByID(ctx, job.ID)
			require.NoError(t, err)
			require.Equal(t, model.JobStatusCompleted, completedJob.Status)

			// Delete should succeed for completed jobs
			err = repo.Delete(ctx, job.ID)
			require.NoError(t, err)

			// Verify job was deleted
			_, err = repo.GetByID(ctx, job.ID)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrJobNotFound)
		})
	})

	t.Run("delete failed job", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, RepoConfig{})
			ctx := context.Background()

			// Create a job with 1 max retry (allows 1 attempt, fails immediately on first failure)
			req := &model.CreateJobRequest{
				Type:       model.JobTypeRunRule,
				Payload:    json.RawMessage(`{"url": "https://example.com"}`),
				MaxRetries: 1,
			}
			job, err := repo.Create(ctx, req)
			require.NoError(t, err)

			// Reserve and fail the job (will mark as failed since retry_count+1 >= max_retries)
			_, err = repo.ReserveNext(ctx, model.JobTypeRunRule, 30)
			require.NoError(t, err)
			_, err = repo.Fail(ctx, job.ID, "test error")
			require.NoError(t, err)

			// Verify job is failed
			failedJob, err := repo.GetByID(ctx, job.ID)
			require.NoError(t, err)
			require.Equal(t, model.JobStatusFailed, failedJob.Status)

			// Delete should succeed for failed jobs
			err = repo.Delete(ctx, job.ID)
			require.NoError(t, err)

			// Verify job was deleted
			_, err = repo.GetByID(ctx, job.ID)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrJobNotFound)
		})
	})

	t.Run("delete pending job with active lease", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, RepoConfig{})
			ctx := context.Background()

			// Create a pending job
			req := &model.CreateJobRequest{
				Type:    model.JobTypeRunRule,
				Payload: json.RawMessage(`{"url": "https://example.com"}`),
			}
			job, err := repo.Create(ctx, req)
			require.NoError(t, err)

			// Manually set a lease on the pending job to simulate race condition
			// This simulates the job being reserved between check and delete
			_, err = db.ExecContext(ctx, `
				UPDATE jobs
				SET lease_expires_at = NOW() + INTERVAL '30 seconds'
				WHERE id = $1
			`, job.ID)
			require.NoError(t, err)

			// Verify job has lease
			jobWithLease, err := repo.GetByID(ctx, job.ID)
			require.NoError(t, err)
			require.NotNil(t, jobWithLease.LeaseExpiresAt)

			// Delete should fail
			err = repo.Delete(ctx, job.ID)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrJobReserved)

			// Verify job still exists
			_, err = repo.GetByID(ctx, job.ID)
			require.NoError(t, err)
		})
	})

	t.Run("delete pending job with expired lease", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewJobRepo(db, RepoConfig{})
			ctx := context.Background()

			// Create a pending job
			req := &model.CreateJobRequest{
				Type:    model.JobTypeRunRule,
				Payload: json.RawMessage(`{"url": "https://example.com"}`),
			}
			job, err := repo.Create(ctx, req)
			require.NoError(t, err)

			// Manually set an expired lease on the pending job
			expiredTime := time.Now().Add(-1 * time.Hour)
			_, err = db.ExecContext(ctx, `
				UPDATE jobs
				SET lease_expires_at = $2
				WHERE id = $1
			`, job.ID, expiredTime)
			require.NoError(t, err)

			// Verify job has expired lease
			jobWithExpiredLease, err := repo.GetByID(ctx, job.ID)
			require.NoError(t, err)
			require.NotNil(t, jobWithExpiredLease.LeaseExpiresAt)
			require.True(t, jobWithExpiredLease.LeaseExpiresAt.Before(time.Now()))

			// Delete should succeed (expired lease is allowed)
			err = repo.Delete(ctx, job.ID)
			require.NoError(t, err)

			// Verify job is deleted
			_, err = repo.GetByID(ctx, job.ID)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrJobNotFound)
		})
	})
}

// Helper functions.
func timePtr(t time.Time) *time.Time {
	return &t
}
