package archive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"teamly/cmd/internal/ids"
)

// Integration tests are enabled when TEAMLY_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_Upsert_NoSeqWaste(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustTestSchemaName(t)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	store := mustNewMigratedStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	channelID := "it-upsert-" + mustNonce(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	first, err := store.SaveMessage(ctx, SaveInput{
		TeamID:    "t1",
		ChannelID: channelID,
		MessageID: "m1",
		AuthorID:  "u1",
		Content:   "hello",
		Payload:   []byte(`{"id":"m1","content":"hello"}`),
		Now:       now,
	})
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	if !first.Created || first.Stored.Seq != 1 || first.Stored.Revision != 1 {
		t.Fatalf("save first: %+v", first)
	}

	edited := now.Add(time.Second)
	second, err := store.SaveMessage(ctx, SaveInput{
		ChannelID: channelID,
		MessageID: "m1",
		Content:   "hello, edited",
		EditedAt:  edited,
		Now:       edited,
	})
	if err != nil {
		t.Fatalf("save edit: %v", err)
	}
	if second.Created || second.Stored.Seq != 1 || second.Stored.Revision != 2 {
		t.Fatalf("save edit: %+v", second)
	}
	if second.Stored.TeamID != "t1" || second.Stored.AuthorID != "u1" || !second.Stored.EditedAt.Equal(edited) {
		t.Fatalf("save edit lost fields: %+v", second.Stored)
	}

	third, err := store.SaveMessage(ctx, SaveInput{ChannelID: channelID, MessageID: "m2", Content: "next"})
	if err != nil {
		t.Fatalf("save m2: %v", err)
	}
	if third.Stored.Seq != 2 {
		t.Fatalf("save m2: seq=%d want 2", third.Stored.Seq)
	}
}

func TestPostgresStore_MarkDeleted_And_History(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustTestSchemaName(t)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	store := mustNewMigratedStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	channelID := "it-history-" + mustNonce(t)
	for i := range 4 {
		if _, err := store.SaveMessage(ctx, SaveInput{ChannelID: channelID, MessageID: fmt.Sprintf("m%d", i+1), Content: "x"}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	del, err := store.MarkDeleted(ctx, DeleteInput{ChannelID: channelID, MessageID: "m2"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !del.Found || !del.Stored.Deleted() || del.Stored.Revision != 2 {
		t.Fatalf("delete: %+v", del)
	}

	again, err := store.MarkDeleted(ctx, DeleteInput{ChannelID: channelID, MessageID: "m2", Now: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("delete again: %v", err)
	}
	if !again.Stored.DeletedAt.Equal(del.Stored.DeletedAt) || again.Stored.Revision != 2 {
		t.Fatalf("second delete moved tombstone: %+v", again.Stored)
	}

	ghost, err := store.MarkDeleted(ctx, DeleteInput{ChannelID: channelID, MessageID: "ghost"})
	if err != nil {
		t.Fatalf("delete ghost: %v", err)
	}
	if ghost.Found {
		t.Fatalf("ghost reported Found")
	}

	page, err := store.FetchHistory(ctx, FetchHistoryInput{ChannelID: channelID, Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !page.HasMore || len(page.Records) != 2 || page.Records[0].MessageID != "m1" || page.Records[1].MessageID != "m3" {
		t.Fatalf("history page 1: %+v", page)
	}

	after := page.Records[1].Seq
	page, err = store.FetchHistory(ctx, FetchHistoryInput{ChannelID: channelID, AfterSeq: &after, Limit: 2})
	if err != nil {
		t.Fatalf("history page 2: %v", err)
	}
	if page.HasMore || len(page.Records) != 1 || page.Records[0].MessageID != "m4" {
		t.Fatalf("history page 2: %+v", page)
	}

	all, err := store.FetchHistory(ctx, FetchHistoryInput{ChannelID: channelID, IncludeDeleted: true})
	if err != nil {
		t.Fatalf("history incl deleted: %v", err)
	}
	if len(all.Records) != 4 {
		t.Fatalf("history incl deleted: %d records", len(all.Records))
	}
}

func TestPostgresStore_ConcurrentFirstSight(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustTestSchemaName(t)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	store := mustNewMigratedStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	channelID := "it-race-" + mustNonce(t)

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.SaveMessage(ctx, SaveInput{ChannelID: channelID, MessageID: "m1", Content: "same"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Created {
				created++
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("concurrent saves failed: %v", errs[0])
	}
	if created != 1 {
		t.Fatalf("created=%d want exactly 1", created)
	}

	all, err := store.FetchHistory(ctx, FetchHistoryInput{ChannelID: channelID})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all.Records) != 1 || all.Records[0].Seq != 1 || all.Records[0].Revision != writers {
		t.Fatalf("history: %+v", all.Records)
	}
}

func TestWithSchema_RejectsUnsafeIdentifiers(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "  ", "1abc", "a-b", `x"; DROP TABLE y; --`} {
		st := &PostgresStore{}
		if err := WithSchema(bad)(st); err == nil {
			t.Fatalf("WithSchema(%q): expected error", bad)
		}
	}
	st := &PostgresStore{}
	if err := WithSchema(" teamly_archive ")(st); err != nil || st.schema != "teamly_archive" {
		t.Fatalf("WithSchema valid: err=%v schema=%q", err, st.schema)
	}

	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("NewPostgresStore(nil): expected error")
	}
}

// ---- helpers ----

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("TEAMLY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: TEAMLY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse TEAMLY_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	return pool
}

func mustTestSchemaName(t *testing.T) string {
	t.Helper()
	return "teamly_it_" + strings.ToLower(mustNonce(t)[16:])
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustNewMigratedStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func mustNonce(t *testing.T) string {
	t.Helper()

	n, err := ids.NewNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	return n
}
