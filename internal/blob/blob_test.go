package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRef(t *testing.T) {
	cases := []struct {
		name    string
		wantExt string
	}{
		{"report.PDF", ".pdf"},
		{"archive.tar.gz", ".gz"},
		{"noext", ""},
		{"../../etc/passwd", ""},
		{"evil.p/hp", ""},
		{"weird.ex$e", ""},
		{"long.abcdefghijklmnopqrstuvwxyz", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ref := NewRef(c.name)
			assert.True(t, ValidRef(ref), "ref %q must be valid", ref)
			assert.True(t, strings.HasSuffix(ref, c.wantExt))
			assert.Len(t, ref, 36+len(c.wantExt))
		})
	}

	assert.NotEqual(t, NewRef("a.txt"), NewRef("a.txt"))
}

func TestValidRef(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "../x", "a/b", `a\b`, "x..y"} {
		assert.False(t, ValidRef(bad), bad)
	}
	assert.True(t, ValidRef("0b6c9c7e-4f0e-4f49-9d57-0fd3b8a8f7d1.txt"))
}

func TestDisk_PutOpenRemove(t *testing.T) {
	ctx := context.Background()
	d := NewDiskFs(afero.NewMemMapFs())
	ref := NewRef("hello.txt")

	n, err := d.Put(ctx, ref, strings.NewReader("0123456789"))
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)

	rc, info, err := d.Open(ctx, ref)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "0123456789", string(body))
	assert.EqualValues(t, 10, info.Size)

	require.NoError(t, d.Remove(ctx, ref))
	_, _, err = d.Open(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	// Removing an already-removed blob is not an error.
	assert.NoError(t, d.Remove(ctx, ref))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("client went away") }

func TestDisk_PutFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	d := NewDiskFs(fs)
	ref := NewRef("x.bin")

	_, err := d.Put(ctx, ref, failingReader{})
	require.Error(t, err)

	for _, name := range []string{ref, ref + ".part"} {
		exists, err := afero.Exists(fs, name)
		require.NoError(t, err)
		assert.False(t, exists, name)
	}
}

func TestDisk_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	d := NewDiskFs(afero.NewMemMapFs())

	_, err := d.Put(ctx, "../escape", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidRef)
	_, _, err = d.Open(ctx, "../escape")
	assert.ErrorIs(t, err, ErrInvalidRef)
	assert.ErrorIs(t, d.Remove(ctx, "a/b"), ErrInvalidRef)
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in           string
		wantEndpoint string
		wantSecure   bool
		wantErr      bool
	}{
		{"minio:9000", "minio:9000", false, false},
		{"http://minio:9000", "minio:9000", false, false},
		{"https://minio:9000", "minio:9000", true, false},
		{"http://minio:9000/", "minio:9000", false, false},
		{"http://minio:9000/foo", "", false, true},
		{"", "", false, true},
	}

	for _, tt := range tests {
		ep, secure, err := normaliseEndpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("expected error for input %q", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tt.in, err)
		}
		if ep != tt.wantEndpoint || secure != tt.wantSecure {
			t.Fatalf("normaliseEndpoint(%q) = (%q,%v), want (%q,%v)", tt.in, ep, secure, tt.wantEndpoint, tt.wantSecure)
		}
	}
}

func TestNewMinIO_IncompleteConfig(t *testing.T) {
	_, err := NewMinIO(context.Background(), S3Config{Endpoint: "minio:9000"})
	assert.Error(t, err)
}
