package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/advisor/internal/database"
)

const archivePrefix = "advisor-run-"

// Metadata describes one archived run bundle.
type Metadata struct {
	RunID     string             `json:"run_id"`
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database inside the bundle.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// ArchiveInfo is one stored bundle, as listed from the bucket.
type ArchiveInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// Archiver bundles consistent database copies into a tar.gz and uploads it.
// Copies are taken with VACUUM INTO so an archive never contains a
// half-checkpointed WAL state.
type Archiver struct {
	client    *S3Client
	databases []*database.DB
	dataDir   string
	keyPrefix string
	log       zerolog.Logger
}

// NewArchiver creates a finalized-run archiver.
func NewArchiver(client *S3Client, databases []*database.DB, dataDir, keyPrefix string, log zerolog.Logger) *Archiver {
	return &Archiver{
		client:    client,
		databases: databases,
		dataDir:   dataDir,
		keyPrefix: keyPrefix,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// Archive snapshots every database and uploads one bundle for the run.
func (a *Archiver) Archive(ctx context.Context, runID string) error {
	start := time.Now()
	a.log.Info().Str("run_id", runID).Msg("Starting run archive")

	stagingDir, err := os.MkdirTemp(a.dataDir, "backup-staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	meta := Metadata{
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Databases: make([]DatabaseMetadata, 0, len(a.databases)),
	}

	var files []string
	for _, db := range a.databases {
		filename := db.Name() + ".db"
		dbPath := filepath.Join(stagingDir, filename)

		if _, err := db.Exec("VACUUM INTO ?", dbPath); err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(dbPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(dbPath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s snapshot: %w", db.Name(), err)
		}

		meta.Databases = append(meta.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	metadataFile := "backup-metadata.json"
	if err := writeMetadata(filepath.Join(stagingDir, metadataFile), meta); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataFile)

	archiveName := fmt.Sprintf("%s%s-%s.tar.gz", archivePrefix, runID, meta.Timestamp.Format("2006-01-02-150405"))
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	key := joinKey(a.keyPrefix, archiveName)
	if err := a.client.Upload(ctx, key, archiveFile); err != nil {
		return err
	}

	a.log.Info().
		Str("run_id", runID).
		Str("key", key).
		Dur("duration_ms", time.Since(start)).
		Msg("Run archive uploaded")
	return nil
}

// ListArchives returns stored bundles, newest first.
func (a *Archiver) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	objects, err := a.client.List(ctx, joinKey(a.keyPrefix, archivePrefix))
	if err != nil {
		return nil, err
	}

	archives := make([]ArchiveInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		key := *obj.Key
		timestamp, ok := parseArchiveTimestamp(key)
		if !ok {
			a.log.Warn().Str("key", key).Msg("Skipping object with unparseable archive name")
			continue
		}

		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		archives = append(archives, ArchiveInfo{Key: key, Timestamp: timestamp, SizeBytes: size})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})
	return archives, nil
}

// RotateOldArchives deletes bundles older than retentionDays, always keeping
// the newest three. retentionDays 0 keeps everything.
func (a *Archiver) RotateOldArchives(ctx context.Context, retentionDays int) error {
	const minArchivesToKeep = 3

	if retentionDays <= 0 {
		return nil
	}

	archives, err := a.ListArchives(ctx)
	if err != nil {
		return err
	}
	if len(archives) <= minArchivesToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, archive := range archives {
		if i < minArchivesToKeep || !archive.Timestamp.Before(cutoff) {
			continue
		}
		if err := a.client.Delete(ctx, archive.Key); err != nil {
			a.log.Error().Err(err).Str("key", archive.Key).Msg("Failed to delete old archive")
			continue
		}
		deleted++
	}

	a.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(archives)-deleted).
		Msg("Archive rotation completed")
	return nil
}

// parseArchiveTimestamp extracts the upload time from a bundle key of the
// form <prefix>/advisor-run-<runID>-<2006-01-02-150405>.tar.gz.
func parseArchiveTimestamp(key string) (time.Time, bool) {
	base := key
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if !strings.HasPrefix(base, archivePrefix) || !strings.HasSuffix(base, ".tar.gz") {
		return time.Time{}, false
	}
	trimmed := strings.TrimSuffix(base, ".tar.gz")

	// The run id itself may contain dashes, so take the fixed-width
	// timestamp from the end.
	const tsLayout = "2006-01-02-150405"
	if len(trimmed) < len(tsLayout) {
		return time.Time{}, false
	}
	ts, err := time.Parse(tsLayout, trimmed[len(trimmed)-len(tsLayout):])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, meta Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(meta)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}
	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	if _, err := io.Copy(tarWriter, f); err != nil {
		return err
	}
	return nil
}
