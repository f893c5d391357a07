package services

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/testutil"
)

var fixtureCreatedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixtureVersion() domain.Version {
	return domain.Version{ID: 7, ProjectID: 1, ProjectName: "birds", VersionNumber: 2, CreatedAt: fixtureCreatedAt}
}

// seedImages adds n images named img<i>.jpg in mode "train", each with one
// active box annotation of class 0. Images whose index is in missing get no blob.
func seedImages(repo *testutil.FakeSnapshotRepo, media *testutil.MemBlobStore, n int, missing ...int) {
	v := fixtureVersion()
	repo.AddVersion(v)
	skip := make(map[int]bool, len(missing))
	for _, i := range missing {
		skip[i] = true
	}
	for i := 1; i <= n; i++ {
		key := fmt.Sprintf("projects/1/img%d.jpg", i)
		repo.AddImage(v.ID, domain.VersionImage{
			ID:             int64(100 + i),
			ProjectImageID: int64(200 + i),
			Mode:           "train",
			ImageName:      fmt.Sprintf("img%d.jpg", i),
			ImageKey:       key,
		})
		repo.AddAnnotation(domain.NewAnnotation(int64(300+i), int64(200+i), &domain.AnnotationClass{ClassID: 0, Name: "bird"}, []byte(`[0.1, 0.2, 0.5, 0.6]`), true))
		if !skip[i] {
			media.Put(key, bytes.Repeat([]byte{byte(i)}, 64+i))
		}
	}
}

type zipEntry struct {
	Name string
	Body string
}

func readZip(t *testing.T, data []byte) []zipEntry {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make([]zipEntry, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		entries = append(entries, zipEntry{Name: f.Name, Body: string(body)})
	}
	return entries
}

func entryNames(entries []zipEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

func entryBody(entries []zipEntry, name string) (string, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e.Body, true
		}
	}
	return "", false
}
