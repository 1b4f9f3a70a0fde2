package handler

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/completion-relay/internal/api/dto"
	"github.com/cuongbtq/completion-relay/internal/api/model"
	"github.com/cuongbtq/completion-relay/internal/api/storage"
	"github.com/cuongbtq/completion-relay/internal/job"
)

func TestGetJob(t *testing.T) {
	completedID := uuid.NewString()
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ledger := newFakeLedger()
	ledger.records[completedID] = &model.JobRecord{
		JobID:       completedID,
		Status:      job.StatusCompleted,
		PromptCount: 2,
		ChunkCount:  17,
		WorkerID:    sql.NullString{String: "worker-1", Valid: true},
		CreatedAt:   createdAt,
		StartedAt:   sql.NullTime{Time: createdAt.Add(time.Second), Valid: true},
		CompletedAt: sql.NullTime{Time: createdAt.Add(5 * time.Second), Valid: true},
		UpdatedAt:   createdAt.Add(5 * time.Second),
	}

	tests := []struct {
		name       string
		ledger     Ledger
		jobID      string
		wantStatus int
	}{
		{name: "existing job", ledger: ledger, jobID: completedID, wantStatus: http.StatusOK},
		{name: "unknown job", ledger: ledger, jobID: uuid.NewString(), wantStatus: http.StatusNotFound},
		{name: "invalid id", ledger: ledger, jobID: "J1", wantStatus: http.StatusBadRequest},
		{name: "ledger disabled", ledger: nil, jobID: completedID, wantStatus: http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&Dependencies{Queue: &fakeProducer{}, Ledger: tt.ledger})

			w := doRequest(r, http.MethodGet, "/api/v1/jobs/"+tt.jobID, nil)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp dto.JobDTO
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, dto.JobDTO{
				JobID:       completedID,
				Status:      job.StatusCompleted,
				PromptCount: 2,
				ChunkCount:  17,
				WorkerID:    "worker-1",
				CreatedAt:   "2026-03-01T10:00:00Z",
				StartedAt:   "2026-03-01T10:00:01Z",
				CompletedAt: "2026-03-01T10:00:05Z",
				UpdatedAt:   "2026-03-01T10:00:05Z",
			}, resp)
		})
	}
}

func TestGetJob_LedgerError(t *testing.T) {
	ledger := newFakeLedger()
	ledger.getErr = errors.New("connection reset")
	r := newTestRouter(&Dependencies{Queue: &fakeProducer{}, Ledger: ledger})

	w := doRequest(r, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListJobs(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := make([]model.JobRecord, 5)
	for i := range records {
		records[i] = model.JobRecord{
			JobID:     uuid.NewString(),
			Status:    job.StatusQueued,
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
			UpdatedAt: base,
		}
	}

	t.Run("page with more results returns a cursor", func(t *testing.T) {
		ledger := newFakeLedger()
		ledger.list = records
		r := newTestRouter(&Dependencies{Queue: &fakeProducer{}, Ledger: ledger})

		w := doRequest(r, http.MethodGet, "/api/v1/jobs?page_size=2&status=QUEUED", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Jobs, 2)
		assert.Equal(t, records[0].JobID, resp.Jobs[0].JobID)
		require.NotEmpty(t, resp.NextCursor)

		cursor, err := DecodeJobCursor(resp.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, records[1].JobID, cursor.JobID)
		assert.True(t, records[1].CreatedAt.Equal(cursor.CreatedAt))

		require.Len(t, ledger.listed, 1)
		assert.Equal(t, storage.JobFilter{Status: job.StatusQueued, PageSize: 2}, ledger.listed[0])
	})

	t.Run("last page has no cursor", func(t *testing.T) {
		ledger := newFakeLedger()
		ledger.list = records
		r := newTestRouter(&Dependencies{Queue: &fakeProducer{}, Ledger: ledger})

		w := doRequest(r, http.MethodGet, "/api/v1/jobs", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Jobs, 5)
		assert.Empty(t, resp.NextCursor)
		assert.Equal(t, defaultPageSize, ledger.listed[0].PageSize)
	})

	t.Run("page size is capped", func(t *testing.T) {
		ledger := newFakeLedger()
		r := newTestRouter(&Dependencies{Queue: &fakeProducer{}, Ledger: ledger})

		w := doRequest(r, http.MethodGet, "/api/v1/jobs?page_size=1000", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, maxPageSize, ledger.listed[0].PageSize)
	})

	t.Run("cursor is passed to storage", func(t *testing.T) {
		ledger := newFakeLedger()
		r := newTestRouter(&Dependencies{Queue: &fakeProducer{}, Ledger: ledger})

		cursor := EncodeJobCursor(&storage.JobCursor{CreatedAt: base, JobID: records[2].JobID})
		w := doRequest(r, http.MethodGet, "/api/v1/jobs?cursor="+cursor, nil)
		require.Equal(t, http.StatusOK, w.Code)

		require.NotNil(t, ledger.listed[0].Cursor)
		assert.Equal(t, records[2].JobID, ledger.listed[0].Cursor.JobID)
	})

	errorCases := []struct {
		name       string
		query      string
		ledger     Ledger
		wantStatus int
	}{
		{name: "invalid cursor", query: "?cursor=not*a*cursor", ledger: newFakeLedger(), wantStatus: http.StatusBadRequest},
		{name: "unknown status", query: "?status=CANCELED", ledger: newFakeLedger(), wantStatus: http.StatusBadRequest},
		{name: "non numeric page size", query: "?page_size=ten", ledger: newFakeLedger(), wantStatus: http.StatusBadRequest},
		{name: "ledger disabled", query: "", ledger: nil, wantStatus: http.StatusNotImplemented},
	}

	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&Dependencies{Queue: &fakeProducer{}, Ledger: tt.ledger})

			w := doRequest(r, http.MethodGet, "/api/v1/jobs"+tt.query, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestJobCursor(t *testing.T) {
	jobID := uuid.NewString()
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)

	t.Run("round trip", func(t *testing.T) {
		encoded := EncodeJobCursor(&storage.JobCursor{CreatedAt: createdAt, JobID: jobID})

		decoded, err := DecodeJobCursor(encoded)
		require.NoError(t, err)
		assert.Equal(t, jobID, decoded.JobID)
		assert.True(t, createdAt.Equal(decoded.CreatedAt))
	})

	t.Run("empty cursor means first page", func(t *testing.T) {
		decoded, err := DecodeJobCursor("")
		require.NoError(t, err)
		assert.Nil(t, decoded)
	})

	invalid := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "***"},
		{name: "missing separator", cursor: "MTIz"},
		{name: "non numeric timestamp", cursor: encodeRaw("abc|" + jobID)},
		{name: "non uuid job id", cursor: encodeRaw(fmt.Sprintf("%d|J1", createdAt.UnixNano()))},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJobCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}

func encodeRaw(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
