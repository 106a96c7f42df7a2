package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), 50, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

var testCreatedAt = time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

func TestSaveAndRead(t *testing.T) {
	s := newTestStore(t)

	paths, total, err := s.Save("job-1", testCreatedAt, map[string][]byte{
		"front_image":  []byte("png-front"),
		"back_image":   []byte("png-back"),
		"front_pdf":    []byte("pdf-front"),
		"back_pdf":     []byte("pdf-back"),
		"combined_pdf": []byte("pdf-combined"),
	})
	require.NoError(t, err)
	assert.Len(t, paths, 5)
	assert.Equal(t, int64(len("png-front")+len("png-back")+len("pdf-front")+len("pdf-back")+len("pdf-combined")), total)

	assert.Equal(t, filepath.Join("2026", "03", "15", "job-1", "front.png"), paths["front_image"])
	assert.Equal(t, filepath.Join("2026", "03", "15", "job-1", "combined.pdf"), paths["combined_pdf"])

	data, err := s.Read(paths["front_image"])
	require.NoError(t, err)
	assert.Equal(t, []byte("png-front"), data)
}

func TestSavePartialSet(t *testing.T) {
	s := newTestStore(t)

	paths, total, err := s.Save("job-2", testCreatedAt, map[string][]byte{
		"front_image": []byte("only-front"),
	})
	require.NoError(t, err)
	assert.Len(t, paths, 1)
	assert.Equal(t, int64(len("only-front")), total)
	assert.False(t, s.Exists(filepath.Join("2026", "03", "15", "job-2", "back.png")))
}

func TestSaveReportsPerKindFailure(t *testing.T) {
	s := newTestStore(t)

	// A directory where back.png should go makes that single write fail.
	blocked := filepath.Join(s.Root(), "2026", "03", "15", "job-blocked", "back.png")
	require.NoError(t, os.MkdirAll(blocked, 0o755))

	paths, total, err := s.Save("job-blocked", testCreatedAt, map[string][]byte{
		"front_image": []byte("png-front"),
		"back_image":  []byte("png-back"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "back_image")

	// The successful write is still reported so the caller can keep it.
	assert.Equal(t, filepath.Join("2026", "03", "15", "job-blocked", "front.png"), paths["front_image"])
	assert.NotContains(t, paths, "back_image")
	assert.Equal(t, int64(len("png-front")), total)
}

func TestReadMissingArtifact(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read(filepath.Join("2026", "03", "15", "nope", "front.png"))
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestReadRejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	outside := filepath.Join(filepath.Dir(s.Root()), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	_, err := s.Read(filepath.Join("..", "secret.txt"))
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	_, err = s.Read(outside)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestDeleteRemovesTreeAndPrunesParents(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.Save("job-3", testCreatedAt, map[string][]byte{
		"front_image": []byte("aaaa"),
		"back_image":  []byte("bbbb"),
	})
	require.NoError(t, err)

	result := s.Delete("job-3", testCreatedAt)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 2, result.FilesDeleted)
	assert.Equal(t, int64(8), result.BytesFreed)
	assert.True(t, result.FolderRemoved)
	// Day, month and year directories were all left empty.
	assert.Equal(t, 3, result.EmptyDirsCleaned)

	_, err = os.Stat(filepath.Join(s.Root(), "2026"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteKeepsSharedDateDirs(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.Save("job-a", testCreatedAt, map[string][]byte{"front_image": []byte("a")})
	require.NoError(t, err)
	_, _, err = s.Save("job-b", testCreatedAt, map[string][]byte{"front_image": []byte("b")})
	require.NoError(t, err)

	result := s.Delete("job-a", testCreatedAt)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 0, result.EmptyDirsCleaned)

	// The sibling job is untouched.
	assert.True(t, s.Exists(filepath.Join("2026", "03", "15", "job-b", "front.png")))
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)

	result := s.Delete("never-existed", testCreatedAt)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 0, result.FilesDeleted)
	assert.False(t, result.FolderRemoved)
}

func TestVerifyCleanup(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.Save("job-4", testCreatedAt, map[string][]byte{"front_image": []byte("data")})
	require.NoError(t, err)

	verify := s.VerifyCleanup("job-4", testCreatedAt)
	assert.False(t, verify.CompletelyRemoved)
	assert.Equal(t, 1, verify.RemainingFiles)
	assert.True(t, verify.CleanupNeeded)

	s.Delete("job-4", testCreatedAt)

	verify = s.VerifyCleanup("job-4", testCreatedAt)
	assert.True(t, verify.CompletelyRemoved)
	assert.Equal(t, 0, verify.RemainingFiles)
	assert.False(t, verify.CleanupNeeded)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.Save("job-5", testCreatedAt, map[string][]byte{
		"front_image": []byte("12345"),
		"back_image":  []byte("67890"),
	})
	require.NoError(t, err)
	_, _, err = s.Save("job-6", testCreatedAt.AddDate(0, 0, 1), map[string][]byte{
		"front_image": []byte("abc"),
	})
	require.NoError(t, err)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(13), stats.TotalSizeBytes)
	assert.Equal(t, 3, stats.TotalFiles)
	assert.Equal(t, 2, stats.TotalJobs)
}

func TestBloatReport(t *testing.T) {
	s := New(t.TempDir(), 0, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	_, _, err := s.Save("job-7", testCreatedAt, map[string][]byte{
		"front_image": []byte("large enough to cross a zero threshold"),
	})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "2025", "01", "02"), 0o755))

	report, err := s.Bloat()
	require.NoError(t, err)
	assert.True(t, report.BloatDetected)
	assert.Len(t, report.EmptyDirectories, 1)
	assert.Len(t, report.LargeDirectories, 1)
	assert.Equal(t, 1, report.LargeDirectories[0].FileCount)
	assert.NotEmpty(t, report.CleanupRecommendations)
}

func TestForceCleanupEmptyDirs(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "2024", "11", "05"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "2024", "12"), 0o755))
	_, _, err := s.Save("job-8", testCreatedAt, map[string][]byte{"front_image": []byte("keep")})
	require.NoError(t, err)

	removed, err := s.ForceCleanupEmptyDirs()
	require.NoError(t, err)
	// 2024/11/05, 2024/11, 2024/12 and 2024 are empty once children go.
	assert.Equal(t, 4, removed)

	assert.True(t, s.Exists(filepath.Join("2026", "03", "15", "job-8", "front.png")))
	_, statErr := os.Stat(filepath.Join(s.Root(), "2024"))
	assert.True(t, os.IsNotExist(statErr))
}
