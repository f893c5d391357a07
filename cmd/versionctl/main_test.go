package main

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataset-export-service/internal/adapters/secondary/sqlite"
	"dataset-export-service/internal/app"
	"dataset-export-service/internal/config"
	"dataset-export-service/internal/core/domain"
)

type fixture struct {
	cfg     *config.Config
	tmpRoot string
	outDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		tmpRoot: filepath.Join(base, "tmp"),
		outDir:  filepath.Join(base, "out"),
	}
	mediaRoot := filepath.Join(base, "media")
	dbPath := filepath.Join(base, "datasets.db")

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(context.Background(), db))
	for _, q := range []string{
		`INSERT INTO project (id, name) VALUES (1, 'birds')`,
		`INSERT INTO image_mode (id, mode) VALUES (1, 'train')`,
		`INSERT INTO annotation_class (id, class_id, name) VALUES (1, 0, 'sparrow')`,
		`INSERT INTO image (id, image_name, image_file) VALUES (1, 'a.jpg', 'projects/1/a.jpg'), (2, 'b.jpg', 'projects/1/b.jpg')`,
		`INSERT INTO project_image (id, project_id, image_id, mode_id) VALUES (1, 1, 1, 1), (2, 1, 2, 1)`,
		`INSERT INTO version (id, project_id, version_number, created_at) VALUES (10, 1, 3, '` + sqlite.FormatTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) + `')`,
		`INSERT INTO version_image (id, version_id, project_image_id) VALUES (1, 10, 1), (2, 10, 2)`,
		`INSERT INTO annotation (id, project_image_id, annotation_class_id, data) VALUES (1, 1, 1, '[0.1, 0.2, 0.5, 0.6]')`,
	} {
		_, err := db.Exec(q)
		require.NoError(t, err, q)
	}
	require.NoError(t, db.Close())

	require.NoError(t, os.MkdirAll(filepath.Join(mediaRoot, "projects", "1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mediaRoot, "projects", "1", "a.jpg"), []byte("jpeg-a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(mediaRoot, "projects", "1", "b.jpg"), []byte("jpeg-b"), 0o644))

	f.cfg = &config.Config{
		Logger:   config.LoggerConfig{Level: "error", Format: "text"},
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: dbPath},
		Storage:  config.StorageConfig{Backend: config.StorageLocal, MediaRoot: mediaRoot, TmpRoot: f.tmpRoot},
		Progress: config.ProgressConfig{Backend: config.ProgressMemory, TTL: time.Minute},
		Export:   config.ExportConfig{PageSize: 1, ChunkSize: 4},
	}
	return f
}

func (f *fixture) load(ctx context.Context) (*app.Deps, error) {
	return app.Build(ctx, f.cfg)
}

func run(t *testing.T, f *fixture, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(f.load)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestExportCommand(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.outDir, "birds.zip")

	stdout, stderr, err := run(t, f, "export", "--version", "10", "--format", "coco", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote "+out)
	assert.Contains(t, stdout, "2 images")
	assert.Contains(t, stderr, "100% archive complete")

	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer zr.Close()
	names := make([]string, 0, len(zr.File))
	for _, file := range zr.File {
		names = append(names, file.Name)
	}
	assert.Equal(t, []string{"train/images/a.jpg", "train/labels/a.txt", "train/images/b.jpg", "train/labels/b.txt"}, names)

	leftovers, err := filepath.Glob(filepath.Join(f.outDir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestExportCommand_Errors(t *testing.T) {
	f := newFixture(t)

	_, _, err := run(t, f, "export")
	assert.ErrorContains(t, err, "required flag")

	_, _, err = run(t, f, "export", "--version", "10", "--format", "voc")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, _, err = run(t, f, "export", "--version", "99", "--out", filepath.Join(f.outDir, "x.zip"))
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
}

func TestArtifactCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deps, err := f.load(ctx)
	require.NoError(t, err)
	plan, err := deps.Export.Prepare(ctx, 10, "yolo")
	require.NoError(t, err)
	_, err = deps.Export.Stream(ctx, plan, "", &bytes.Buffer{})
	require.NoError(t, err)
	deps.Close()

	blob := filepath.Join(f.tmpRoot, "versions", "birds.v3.yolo.zip")
	_, err = os.Stat(blob)
	require.NoError(t, err)

	stdout, _, err := run(t, f, "artifact", "show", "--version", "10")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"location": "versions/birds.v3.yolo.zip"`)

	stdout, _, err = run(t, f, "artifact", "purge", "--version", "10", "--format", "yolo")
	require.NoError(t, err)
	assert.Contains(t, stdout, "purged artifact of version 10 (yolo)")
	_, err = os.Stat(blob)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, _, err = run(t, f, "artifact", "show", "--version", "10")
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
}
