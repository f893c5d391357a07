package domain

import (
	"fmt"
	"strings"
	"time"
)

type ExportFormat string

const (
	FormatYOLO   ExportFormat = "yolo"
	FormatCOCO   ExportFormat = "coco"
	FormatCustom ExportFormat = "custom"
)

// ParseExportFormat accepts the query value of the download endpoint. An empty
// value selects yolo.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatYOLO:
		return FormatYOLO, nil
	case FormatCOCO:
		return FormatCOCO, nil
	case FormatCustom:
		return FormatCustom, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// DefaultModePrefix is used for project images without a mode.
const DefaultModePrefix = "default"

type Version struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	ProjectName   string    `json:"project_name"`
	VersionNumber int       `json:"version_number"`
	CreatedAt     time.Time `json:"created_at"`
}

// ArchiveName is the file name shared by the download response and the cached artifact.
func (v *Version) ArchiveName(format ExportFormat) string {
	return fmt.Sprintf("%s.v%d.%s.zip", v.ProjectName, v.VersionNumber, format)
}

// VersionImage is one row of a version joined with its project image and image.
type VersionImage struct {
	ID             int64
	ProjectImageID int64
	Mode           string
	ImageName      string
	ImageKey       string
}

type AnnotationClass struct {
	ClassID int    `json:"class_id"`
	Name    string `json:"name"`
}

type Annotation struct {
	ID             int64
	ProjectImageID int64
	Class          AnnotationClass
	Geometry       Geometry
	// GeometryErr is set when the stored geometry could not be decoded.
	GeometryErr error
	IsActive    bool
}

type Augmentation struct {
	ID             int64
	VersionImageID int64
	ImageKey       string
	Boxes          [][]float64
	BoxFormat      BoxFormat
	Labels         []Label
	// AnnotationErr is set when the stored bbox/label structure could not be decoded.
	AnnotationErr error
}

// SnapshotEntry is one (image, annotations, augmentations) tuple of a version.
type SnapshotEntry struct {
	VersionImageID    int64
	ModePrefix        string
	ImageKey          string
	ImageDisplayName  string
	ActiveAnnotations []Annotation
	Augmentations     []Augmentation
}

// NewAnnotation decodes a stored annotation row. Decoding problems are kept on
// the annotation so that one bad row is skipped instead of failing the page.
// class is nil when the row has no annotation class.
func NewAnnotation(id, projectImageID int64, class *AnnotationClass, data []byte, isActive bool) Annotation {
	ann := Annotation{ID: id, ProjectImageID: projectImageID, IsActive: isActive}
	if class == nil {
		ann.GeometryErr = ErrMissingClass
		return ann
	}
	ann.Class = *class
	ann.Geometry, ann.GeometryErr = ParseGeometry(data)
	return ann
}

// NewAugmentation decodes a stored augmentation row.
func NewAugmentation(id, versionImageID int64, imageKey string, data []byte) Augmentation {
	aug := Augmentation{ID: id, VersionImageID: versionImageID, ImageKey: imageKey}
	aug.Boxes, aug.BoxFormat, aug.Labels, aug.AnnotationErr = ParseAugmentedAnnotation(data)
	return aug
}
