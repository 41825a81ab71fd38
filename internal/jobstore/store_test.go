package jobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apresai/voiceover/internal/script"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type storeFactory func(t *testing.T, clock func() time.Time) Store

func openSQLiteForTest(t *testing.T, clock func() time.Time) Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "jobs.db"), newLogger())
	require.NoError(t, err)
	s.clock = clock
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openDynamoForTest(t *testing.T, clock func() time.Time) Store {
	t.Helper()
	s := NewDynamoStore(newFakeDynamo(2), "jobs")
	s.clock = clock
	return s
}

func newJob(id string, created time.Time) *Job {
	voice := "voice-1"
	return &Job{
		ID:     id,
		Status: JobStatusPending,
		ScriptParts: []script.Segment{
			{Text: "Hello", VoiceID: &voice},
			{Text: "World"},
		},
		CreatedAt:  created,
		UpdatedAt:  created,
		TotalParts: 2,
	}
}

func TestStores(t *testing.T) {
	factories := map[string]storeFactory{
		"sqlite":   openSQLiteForTest,
		"dynamodb": openDynamoForTest,
	}
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			t.Run("insert and get", func(t *testing.T) { testInsertGet(t, factory) })
			t.Run("duplicate insert", func(t *testing.T) { testDuplicateInsert(t, factory) })
			t.Run("update", func(t *testing.T) { testUpdate(t, factory) })
			t.Run("list newest first", func(t *testing.T) { testListOrder(t, factory) })
			t.Run("delete", func(t *testing.T) { testDelete(t, factory) })
			t.Run("concurrent jobs", func(t *testing.T) { testConcurrent(t, factory) })
		})
	}
}

func testInsertGet(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := factory(t, func() time.Time { return base })

	job := newJob("job-1", base)
	require.NoError(t, store.Insert(ctx, job))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *job, *got)

	missing, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testDuplicateInsert(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := factory(t, func() time.Time { return base })

	require.NoError(t, store.Insert(ctx, newJob("job-1", base)))
	err := store.Insert(ctx, newJob("job-1", base))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func testUpdate(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := factory(t, clock.Now)

	job := newJob("job-1", clock.Now())
	require.NoError(t, store.Insert(ctx, job))

	later := clock.Now().Add(90 * time.Second)
	clock.Set(later)
	job.Status = JobStatusCompleted
	job.OutputFile = "/tmp/out.wav"
	job.CompletedParts = 2
	require.NoError(t, store.Update(ctx, job))
	assert.Equal(t, later, job.UpdatedAt)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.Equal(t, "/tmp/out.wav", got.OutputFile)
	assert.Equal(t, 2, got.CompletedParts)
	assert.Equal(t, later, got.UpdatedAt)
	assert.True(t, got.CreatedAt.Before(got.UpdatedAt))

	err = store.Update(ctx, newJob("ghost", later))
	assert.ErrorIs(t, err, ErrNotFound)
}

func testListOrder(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	t3 := t2.Add(250 * time.Millisecond)
	store := factory(t, func() time.Time { return t3 })

	require.NoError(t, store.Insert(ctx, newJob("b-second", t2)))
	require.NoError(t, store.Insert(ctx, newJob("c-third", t3)))
	require.NoError(t, store.Insert(ctx, newJob("a-first", t1)))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"c-third", "b-second", "a-first"}, ids)
}

func testDelete(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := factory(t, func() time.Time { return base })

	require.NoError(t, store.Insert(ctx, newJob("job-1", base)))

	deleted, err := store.Delete(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, deleted)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testConcurrent(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := factory(t, func() time.Time { return base })

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := newJob(fmt.Sprintf("job-%02d", i), base.Add(time.Duration(i)*time.Millisecond))
			if err := store.Insert(ctx, job); err != nil {
				errs <- err
				return
			}
			job.Status = JobStatusProcessing
			if err := store.Update(ctx, job); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 10)
	for _, j := range jobs {
		assert.Equal(t, JobStatusProcessing, j.Status)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := OpenSQLite(ctx, path, newLogger())
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, newJob("persisted", time.Now())))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path, newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, "persisted")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Hello", got.ScriptParts[0].Text)
	assert.Equal(t, "voice-1", *got.ScriptParts[0].VoiceID)
	assert.Nil(t, got.ScriptParts[1].VoiceID)
}

func TestSQLitePathWithURICharacters(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "takes #2")
	path := filepath.Join(dir, "jobs?v=1%20.db")

	s, err := OpenSQLite(ctx, path, newLogger())
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, newJob("escaped", time.Now())))
	require.NoError(t, s.Close())

	assert.FileExists(t, path)
	assert.NoFileExists(t, filepath.Join(dir, "jobs"))

	reopened, err := OpenSQLite(ctx, path, newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.Get(ctx, "escaped")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSQLiteClosedIsStorageError(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "jobs.db"), newLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.List(ctx)
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "list", storageErr.Op)
}

// fakeDynamo is an in-memory table honoring the condition expressions and
// GSI1 query used by DynamoStore.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
}

func newFakeDynamo(pageSize int) *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}, pageSize: pageSize}
}

func attrS(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pk := attrS(in.Item, "PK")
	_, exists := f.items[pk]
	switch {
	case in.ConditionExpression == nil:
	case *in.ConditionExpression == "attribute_not_exists(PK)" && exists,
		*in.ConditionExpression == "attribute_exists(PK)" && !exists:
		return nil, &types.ConditionalCheckFailedException{Message: in.ConditionExpression}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[attrS(in.Key, "PK")]}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := attrS(in.Key, "PK")
	old := f.items[pk]
	delete(f.items, pk)
	return &dynamodb.DeleteItemOutput{Attributes: old}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []map[string]types.AttributeValue
	for _, item := range f.items {
		if attrS(item, "GSI1PK") == "JOBS" {
			all = append(all, item)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return attrS(all[i], "GSI1SK") > attrS(all[j], "GSI1SK")
	})

	start := 0
	if in.ExclusiveStartKey != nil {
		after := attrS(in.ExclusiveStartKey, "GSI1SK")
		for start < len(all) && attrS(all[start], "GSI1SK") >= after {
			start++
		}
	}
	end := start + f.pageSize
	out := &dynamodb.QueryOutput{}
	if end < len(all) {
		last := all[end-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"PK":     last["PK"],
			"SK":     last["SK"],
			"GSI1PK": last["GSI1PK"],
			"GSI1SK": last["GSI1SK"],
		}
	} else {
		end = len(all)
	}
	out.Items = all[start:end]
	return out, nil
}
