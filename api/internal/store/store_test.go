package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantdoc-bot/api/internal/diagnosis"
	"plantdoc-bot/api/internal/session"
)

var fixedNow = time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func sampleResult() diagnosis.Result {
	return diagnosis.Result{
		ConfidenceLevel: 82,
		PrimaryIssue:    diagnosis.PrimaryIssue{ClassEN: "rice_blast"},
		CausalAgent:     "Magnaporthe oryzae",
		Summary:         diagnosis.Summary{FinalClass: "rice_blast", OverallConfidence: "82%"},
	}
}

func TestCacheRepoGetHit(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCacheRepo(db)
	repo.now = func() time.Time { return fixedNow }

	raw, err := json.Marshal(sampleResult())
	require.NoError(t, err)
	mock.ExpectQuery(`select result_json\s+from diagnosis_cache`).
		WithArgs("abc", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"result_json"}).AddRow(raw))

	got, ok, err := repo.Get(t.Context(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rice_blast", got.Summary.FinalClass)
	assert.Equal(t, 82, got.ConfidenceLevel)
}

func TestCacheRepoGetMiss(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCacheRepo(db)

	mock.ExpectQuery(`from diagnosis_cache`).WillReturnError(sql.ErrNoRows)
	got, ok, err := repo.Get(t.Context(), "abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCacheRepoGetBrokenRowIsMiss(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCacheRepo(db)

	mock.ExpectQuery(`from diagnosis_cache`).
		WillReturnRows(sqlmock.NewRows([]string{"result_json"}).AddRow([]byte("{not json")))
	_, ok, err := repo.Get(t.Context(), "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheRepoGetPropagatesDBError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCacheRepo(db)

	mock.ExpectQuery(`from diagnosis_cache`).WillReturnError(errors.New("conn reset"))
	_, _, err := repo.Get(t.Context(), "abc")
	assert.Error(t, err)
}

func TestCacheRepoPutUpserts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCacheRepo(db)
	repo.now = func() time.Time { return fixedNow }

	mock.ExpectExec(`insert into diagnosis_cache .* on conflict \(fingerprint\) do update`).
		WithArgs("abc", sqlmock.AnyArg(), fixedNow.Add(24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Put(t.Context(), "abc", sampleResult(), 24*time.Hour))
}

func TestRateRepoPeekWithoutBucket(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRateRepo(db)
	repo.now = func() time.Time { return fixedNow }

	mock.ExpectQuery(`select count from rate_limits`).
		WithArgs("rate:u1:2024050110", fixedNow).
		WillReturnError(sql.ErrNoRows)

	allowed, remaining, err := repo.CheckAndPeek(t.Context(), "u1", 10)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 10, remaining)
}

func TestRateRepoPeekAtLimit(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRateRepo(db)
	repo.now = func() time.Time { return fixedNow }

	mock.ExpectQuery(`select count from rate_limits`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))

	allowed, remaining, err := repo.CheckAndPeek(t.Context(), "u1", 10)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
}

func TestRateRepoIncrementReturnsCount(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRateRepo(db)
	repo.now = func() time.Time { return fixedNow }

	mock.ExpectQuery(`insert into rate_limits .* returning count`).
		WithArgs("rate:u1:2024050110", fixedNow, fixedNow.Add(time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.Increment(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSessionRepoGetAbsentIsIdle(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db, 30*time.Minute)

	mock.ExpectQuery(`select payload from user_sessions`).WillReturnError(sql.ErrNoRows)
	s, err := repo.Get(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, session.Empty("u1"), s)
}

func TestSessionRepoRoundTripPayload(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db, 30*time.Minute)
	repo.now = func() time.Time { return fixedNow }

	in := session.Session{UserID: "u1", State: session.WaitingForPlantType, AdditionalInfo: "yellow spots"}
	mock.ExpectExec(`insert into user_sessions .* on conflict \(user_id\)`).
		WithArgs("u1", sqlmock.AnyArg(), fixedNow, fixedNow.Add(30*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Set(t.Context(), in, 0))

	in.CreatedAt, in.UpdatedAt = fixedNow, fixedNow
	stored, err := json.Marshal(in)
	require.NoError(t, err)
	mock.ExpectQuery(`select payload from user_sessions`).
		WithArgs("u1", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(stored))

	got, err := repo.Get(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, session.WaitingForPlantType, got.State)
	assert.Equal(t, "yellow spots", got.AdditionalInfo)
	assert.True(t, got.CreatedAt.Equal(fixedNow))
}

func TestSessionRepoClear(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db, time.Minute)

	mock.ExpectExec(`delete from user_sessions where user_id = \$1`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Clear(t.Context(), "u1"))
}

func TestHistoryRepoSaveAndRecent(t *testing.T) {
	db, mock := newMock(t)
	repo := &HistoryRepo{DB: db}
	res := sampleResult()

	mock.ExpectQuery(`insert into diagnoses`).
		WithArgs("u1", "fp1", "rice", "leaf", "gemini-2.5-flash", false, 82, "rice_blast", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := repo.Save(t.Context(), Record{
		UserID: "u1", Fingerprint: "fp1", Category: diagnosis.Rice, Part: diagnosis.Leaf,
		Model: "gemini-2.5-flash", Result: res,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 7, id)

	raw, _ := json.Marshal(res)
	mock.ExpectQuery(`from diagnoses\s+where user_id = \$1`).
		WithArgs("u1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "fingerprint", "category", "part", "model", "cache_hit", "result_json"}).
			AddRow(int64(7), fixedNow, "fp1", "rice", "leaf", "gemini-2.5-flash", false, raw).
			AddRow(int64(6), fixedNow.Add(-time.Hour), "fp0", "corn", "", "", true, []byte("{broken")))

	recs, err := repo.Recent(t.Context(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, diagnosis.Rice, recs[0].Category)
	assert.Equal(t, "rice_blast", recs[0].Result.Summary.FinalClass)
}

type fakePurger struct {
	n   int64
	err error
	hit int
}

func (f *fakePurger) PurgeExpired(context.Context) (int64, error) {
	f.hit++
	return f.n, f.err
}

func TestJanitorSweepContinuesAfterError(t *testing.T) {
	bad := &fakePurger{err: errors.New("boom")}
	good := &fakePurger{n: 3}
	j := &Janitor{Tables: map[string]purger{"a": bad, "b": good}}

	j.Sweep(t.Context())
	assert.Equal(t, 1, bad.hit)
	assert.Equal(t, 1, good.hit)
}

func TestMigrateRunsSchema(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`create table if not exists diagnosis_cache`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, Migrate(t.Context(), db))
}
