package links

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"file-portal/internal/db"
	"file-portal/internal/store"
)

type nopBlobs struct{}

func (nopBlobs) Remove(context.Context, string) error { return nil }

func newStore(t *testing.T) *store.Store {
	t.Helper()
	conn, err := db.Open(db.SQLite, filepath.Join(t.TempDir(), "links.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.RunMigrations(conn, db.SQLite))
	return store.New(conn, db.SQLite, nopBlobs{})
}

func TestIssue_ShapeAndClock(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	tok, err := NewIssuer(func() time.Time { return at }).Issue()
	require.NoError(t, err)

	assert.Len(t, tok.Value, TokenLength)
	for _, c := range tok.Value {
		assert.True(t, strings.ContainsRune(TokenAlphabet, c), "unexpected rune %q", c)
	}
	assert.True(t, tok.IssuedAt.Equal(at))
	assert.Equal(t, time.UTC, tok.IssuedAt.Location())
}

func TestIssue_ThousandDistinct(t *testing.T) {
	iss := NewIssuer(nil)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		tok, err := iss.Issue()
		require.NoError(t, err)
		_, dup := seen[tok.Value]
		require.False(t, dup, "duplicate token %s", tok.Value)
		seen[tok.Value] = struct{}{}
	}
}

func TestResolve_TTLBoundary(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	id, err := s.InsertFile(ctx, store.NewFile{StoredName: "ref.txt", OriginalName: "a.txt", Size: 10})
	require.NoError(t, err)
	_, err = s.InsertLink(ctx, id, "boundaryTokenAAAAAAAA", created)
	require.NoError(t, err)

	cases := []struct {
		name   string
		offset time.Duration
		want   Status
	}{
		{"fresh", 0, StatusValid},
		{"one second before", DefaultTTL - time.Second, StatusValid},
		{"exactly ttl", DefaultTTL, StatusValid},
		{"one second after", DefaultTTL + time.Second, StatusExpired},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			now := created.Add(c.offset)
			r := NewResolver(s, DefaultTTL, func() time.Time { return now })
			res, err := r.Resolve(ctx, "boundaryTokenAAAAAAAA")
			require.NoError(t, err)
			assert.Equal(t, c.want, res.Status)
			if c.want == StatusValid {
				require.NotNil(t, res.File)
				assert.Equal(t, "a.txt", res.File.OriginalName)
			} else {
				assert.Nil(t, res.File)
			}
		})
	}
}

func TestResolve_ExpiredLeavesRowInPlace(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	id, err := s.InsertFile(ctx, store.NewFile{StoredName: "r", OriginalName: "a"})
	require.NoError(t, err)
	_, err = s.InsertLink(ctx, id, "expiredTokenBBBBBBBBB", created)
	require.NoError(t, err)

	r := NewResolver(s, time.Hour, func() time.Time { return created.Add(2 * time.Hour) })
	for i := 0; i < 2; i++ {
		res, err := r.Resolve(ctx, "expiredTokenBBBBBBBBB")
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, res.Status)
	}
	_, _, err = s.GetLinkByToken(ctx, "expiredTokenBBBBBBBBB")
	assert.NoError(t, err)
}

func TestResolve_UnknownToken(t *testing.T) {
	r := NewResolver(newStore(t), 0, nil)
	for _, tok := range []string{"", "doesNotExist", strings.Repeat("z", TokenLength)} {
		res, err := r.Resolve(context.Background(), tok)
		require.NoError(t, err)
		assert.Equal(t, StatusNotFound, res.Status, tok)
	}
}

func TestResolve_DeletedFileInvalidatesAllLinks(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	iss := NewIssuer(nil)

	id, err := s.InsertFile(ctx, store.NewFile{StoredName: "r.bin", OriginalName: "x.bin", Size: 1})
	require.NoError(t, err)

	var tokens []string
	for i := 0; i < 2; i++ {
		tok, err := iss.Issue()
		require.NoError(t, err)
		_, err = s.InsertLink(ctx, id, tok.Value, tok.IssuedAt)
		require.NoError(t, err)
		tokens = append(tokens, tok.Value)
	}

	r := NewResolver(s, DefaultTTL, nil)
	for _, tok := range tokens {
		res, err := r.Resolve(ctx, tok)
		require.NoError(t, err)
		require.Equal(t, StatusValid, res.Status)
	}

	n, err := s.DeleteFiles(ctx, []int64{id})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	for _, tok := range tokens {
		res, err := r.Resolve(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, StatusNotFound, res.Status)
	}
}

type fakeLookup struct {
	link store.LinkRecord
	file *store.FileRecord
	err  error
}

func (f fakeLookup) GetLinkByToken(context.Context, string) (store.LinkRecord, *store.FileRecord, error) {
	return f.link, f.file, f.err
}

func TestResolve_StorageFault(t *testing.T) {
	r := NewResolver(fakeLookup{err: errors.New("disk I/O error")}, 0, nil)
	_, err := r.Resolve(context.Background(), "tok")
	assert.Error(t, err)
}

func TestResolve_MissingOwner(t *testing.T) {
	now := time.Now()
	r := NewResolver(fakeLookup{link: store.LinkRecord{ID: 1, FileID: 9, CreatedAt: now}}, 0, func() time.Time { return now })
	res, err := r.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
}

func TestExpiry(t *testing.T) {
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver(fakeLookup{}, 2*time.Hour, nil)
	assert.Equal(t, created.Add(2*time.Hour), r.Expiry(store.LinkRecord{CreatedAt: created}))
	assert.Equal(t, 2*time.Hour, r.TTL())
	assert.Equal(t, "expired", StatusExpired.String())
}
