// Package storage owns the on disk lifecycle of card artifacts. Files live
// under <root>/YYYY/MM/DD/<jobID>/ and are removed wholesale once quality
// control passes.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// artifactFiles maps artifact kinds to their on disk names.
var artifactFiles = map[string]string{
	"front_image":  "front.png",
	"back_image":   "back.png",
	"front_pdf":    "front.pdf",
	"back_pdf":     "back.pdf",
	"combined_pdf": "combined.pdf",
}

// Kinds lists every artifact kind a complete card carries, in save order.
var Kinds = []string{"front_image", "back_image", "front_pdf", "back_pdf", "combined_pdf"}

type Store struct {
	root           string
	largeThreshold int64
	log            *slog.Logger
}

func New(root string, largeThresholdMB int64, log *slog.Logger) *Store {
	return &Store{
		root:           root,
		largeThreshold: largeThresholdMB * 1024 * 1024,
		log:            log.With("component", "storage"),
	}
}

func (s *Store) Root() string {
	return s.root
}

// JobDir returns the job directory relative to the store root.
func (s *Store) JobDir(jobID string, createdAt time.Time) string {
	return filepath.Join(createdAt.Format("2006"), createdAt.Format("01"), createdAt.Format("02"), jobID)
}

// Save writes the given artifacts and returns relative paths keyed by kind
// together with the total bytes written. A failure on one file does not
// abort the rest, but every failed kind is reported in the returned error
// so the caller never mistakes a partial save for a complete one.
func (s *Store) Save(jobID string, createdAt time.Time, files map[string][]byte) (map[string]string, int64, error) {
	rel := s.JobDir(jobID, createdAt)
	dir := filepath.Join(s.root, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, 0, fmt.Errorf("failed to create job directory: %w", err)
	}

	paths := make(map[string]string)
	var total int64
	var failed []string
	for _, kind := range Kinds {
		data, ok := files[kind]
		if !ok {
			continue
		}
		name := artifactFiles[kind]
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			s.log.Error("failed to save artifact", "job_id", jobID, "kind", kind, "error", err)
			failed = append(failed, fmt.Sprintf("%s: %v", kind, err))
			continue
		}
		paths[kind] = filepath.Join(rel, name)
		total += int64(len(data))
	}

	if len(failed) > 0 {
		return paths, total, fmt.Errorf("failed to save artifacts (%s)", strings.Join(failed, "; "))
	}
	s.log.Info("saved card artifacts", "job_id", jobID, "files", len(paths), "bytes", total)
	return paths, total, nil
}

// Read returns the content of an artifact by its relative path.
func (s *Store) Read(relPath string) ([]byte, error) {
	clean := filepath.Clean(relPath)
	if clean == "" || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, ErrArtifactNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

func (s *Store) Exists(relPath string) bool {
	if relPath == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(s.root, filepath.Clean(relPath)))
	return err == nil
}

type CleanupResult struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	FilesDeleted     int    `json:"files_deleted"`
	BytesFreed       int64  `json:"bytes_freed"`
	FolderRemoved    bool   `json:"folder_removed"`
	FolderPath       string `json:"folder_path,omitempty"`
	EmptyDirsCleaned int    `json:"empty_dirs_cleaned"`
}

// Delete removes the whole job directory tree and prunes empty date parents.
// Deleting an already removed directory succeeds with zero counts.
func (s *Store) Delete(jobID string, createdAt time.Time) *CleanupResult {
	dir := filepath.Join(s.root, s.JobDir(jobID, createdAt))

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &CleanupResult{
			Status:  "success",
			Message: "directory already cleaned up",
		}
	}

	var filesDeleted int
	var bytesFreed int64
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			bytesFreed += info.Size()
		}
		filesDeleted++
		return nil
	})

	if err := os.RemoveAll(dir); err != nil {
		s.log.Error("failed to remove job directory", "job_id", jobID, "dir", dir, "error", err)
		return &CleanupResult{
			Status:  "error",
			Message: fmt.Sprintf("failed to delete job directory: %v", err),
		}
	}

	pruned := s.pruneEmptyParents(filepath.Dir(dir), 3)

	s.log.Info("removed card artifacts",
		"job_id", jobID, "files_deleted", filesDeleted,
		"bytes_freed", bytesFreed, "empty_dirs_cleaned", pruned)

	return &CleanupResult{
		Status:           "success",
		Message:          fmt.Sprintf("removed job folder with %d files", filesDeleted),
		FilesDeleted:     filesDeleted,
		BytesFreed:       bytesFreed,
		FolderRemoved:    true,
		FolderPath:       dir,
		EmptyDirsCleaned: pruned,
	}
}

// pruneEmptyParents walks upward from dir removing empty directories, at
// most maxLevels deep (day, month, year) and never past the store root.
func (s *Store) pruneEmptyParents(dir string, maxLevels int) int {
	removed := 0
	current := dir
	root := filepath.Clean(s.root)

	for level := 0; level < maxLevels; level++ {
		if filepath.Clean(current) == root || !strings.HasPrefix(filepath.Clean(current), root) {
			break
		}
		entries, err := os.ReadDir(current)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(current); err != nil {
			s.log.Warn("failed to remove empty directory", "dir", current, "error", err)
			break
		}
		removed++
		current = filepath.Dir(current)
	}
	return removed
}

type VerifyResult struct {
	JobID              string `json:"job_id"`
	ExpectedDirectory  string `json:"expected_directory"`
	CompletelyRemoved  bool   `json:"completely_removed"`
	RemainingFiles     int    `json:"remaining_files"`
	RemainingSizeBytes int64  `json:"remaining_size_bytes"`
	CleanupNeeded      bool   `json:"cleanup_needed"`
}

// VerifyCleanup checks that nothing remains of a job directory after Delete.
func (s *Store) VerifyCleanup(jobID string, createdAt time.Time) *VerifyResult {
	dir := filepath.Join(s.root, s.JobDir(jobID, createdAt))
	result := &VerifyResult{
		JobID:             jobID,
		ExpectedDirectory: dir,
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		result.CompletelyRemoved = true
		return result
	}

	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		result.RemainingFiles++
		if info, err := d.Info(); err == nil {
			result.RemainingSizeBytes += info.Size()
		}
		return nil
	})
	result.CleanupNeeded = true
	s.log.Warn("cleanup incomplete", "job_id", jobID, "remaining_files", result.RemainingFiles)
	return result
}

type Statistics struct {
	TotalSizeBytes   int64   `json:"total_size_bytes"`
	TotalSizeMB      float64 `json:"total_size_mb"`
	TotalFiles       int     `json:"total_files"`
	TotalDirectories int     `json:"total_directories"`
	TotalJobs        int     `json:"total_jobs"`
	AverageJobSizeMB float64 `json:"average_size_per_job_mb"`
}

// Stats walks the whole store and aggregates usage.
func (s *Store) Stats() (*Statistics, error) {
	stats := &Statistics{}
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return stats, nil
	}

	jobs := make(map[string]bool)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != s.root {
				stats.TotalDirectories++
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.TotalFiles++
		stats.TotalSizeBytes += info.Size()
		jobs[filepath.Base(filepath.Dir(path))] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk storage root: %w", err)
	}

	stats.TotalJobs = len(jobs)
	stats.TotalSizeMB = float64(stats.TotalSizeBytes) / 1024 / 1024
	if stats.TotalJobs > 0 {
		stats.AverageJobSizeMB = stats.TotalSizeMB / float64(stats.TotalJobs)
	}
	return stats, nil
}

type LargeDirectory struct {
	Directory string  `json:"directory"`
	SizeMB    float64 `json:"size_mb"`
	FileCount int     `json:"file_count"`
}

type BloatReport struct {
	ScanTimestamp          time.Time        `json:"scan_timestamp"`
	TotalDirectories       int              `json:"total_directories"`
	EmptyDirectories       []string         `json:"empty_directories"`
	LargeDirectories       []LargeDirectory `json:"large_directories"`
	BloatDetected          bool             `json:"bloat_detected"`
	CleanupRecommendations []string         `json:"cleanup_recommendations"`
}

// Bloat scans for empty directories and directories over the configured
// size threshold.
func (s *Store) Bloat() (*BloatReport, error) {
	report := &BloatReport{
		ScanTimestamp:    time.Now().UTC(),
		EmptyDirectories: []string{},
		LargeDirectories: []LargeDirectory{},
	}
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		report.CleanupRecommendations = []string{"no cleanup needed, storage is empty"}
		return report, nil
	}

	dirFiles := make(map[string][]int64)
	dirChildren := make(map[string]int)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == s.root {
			return nil
		}
		parent := filepath.Dir(path)
		dirChildren[parent]++
		if d.IsDir() {
			report.TotalDirectories++
			if _, ok := dirChildren[path]; !ok {
				dirChildren[path] = 0
			}
			return nil
		}
		if info, err := d.Info(); err == nil {
			dirFiles[parent] = append(dirFiles[parent], info.Size())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk storage root: %w", err)
	}

	for dir, children := range dirChildren {
		if children == 0 {
			report.EmptyDirectories = append(report.EmptyDirectories, dir)
			report.BloatDetected = true
		}
	}
	sort.Strings(report.EmptyDirectories)

	for dir, sizes := range dirFiles {
		var total int64
		for _, size := range sizes {
			total += size
		}
		if total > s.largeThreshold {
			report.LargeDirectories = append(report.LargeDirectories, LargeDirectory{
				Directory: dir,
				SizeMB:    float64(total) / 1024 / 1024,
				FileCount: len(sizes),
			})
		}
	}
	sort.Slice(report.LargeDirectories, func(i, j int) bool {
		return report.LargeDirectories[i].Directory < report.LargeDirectories[j].Directory
	})

	if len(report.EmptyDirectories) > 0 {
		report.CleanupRecommendations = append(report.CleanupRecommendations,
			fmt.Sprintf("remove %d empty directories", len(report.EmptyDirectories)))
	}
	if len(report.LargeDirectories) > 0 {
		report.CleanupRecommendations = append(report.CleanupRecommendations,
			fmt.Sprintf("investigate %d large directories", len(report.LargeDirectories)))
	}
	if len(report.CleanupRecommendations) == 0 {
		report.CleanupRecommendations = []string{"no cleanup needed, storage is optimized"}
	}
	return report, nil
}

// ForceCleanupEmptyDirs removes every empty directory under the root,
// bottom up so freshly emptied parents go too.
func (s *Store) ForceCleanupEmptyDirs() (int, error) {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return 0, nil
	}

	var dirs []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == s.root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk storage root: %w", err)
	}

	// Deepest first.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	removed := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			s.log.Warn("failed to remove empty directory", "dir", dir, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("forced empty directory cleanup", "removed", removed)
	}
	return removed, nil
}
