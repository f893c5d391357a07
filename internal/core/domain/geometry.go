package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BoxFormat names the layout of a four-number box. All coordinates are
// normalized to the image size.
type BoxFormat string

const (
	// BoxXYXY is (xmin, ymin, xmax, ymax).
	BoxXYXY BoxFormat = "xyxy"
	// BoxXYXYN is (xmin, ymin, xmax, ymax), explicitly normalized.
	BoxXYXYN BoxFormat = "xyxyn"
	// BoxXYWH is (center x, center y, width, height).
	BoxXYWH BoxFormat = "xywh"
)

func ParseBoxFormat(s string) (BoxFormat, error) {
	switch BoxFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", BoxXYXY:
		return BoxXYXY, nil
	case BoxXYXYN:
		return BoxXYXYN, nil
	case BoxXYWH:
		return BoxXYWH, nil
	default:
		return "", fmt.Errorf("%w: unknown box format %q", ErrInvalidGeometry, s)
	}
}

// Geometry holds either a box or a polygon.
type Geometry struct {
	Box       []float64
	BoxFormat BoxFormat
	Polygon   [][2]float64
}

func (g Geometry) IsPolygon() bool {
	return len(g.Polygon) > 0
}

// Corners returns the box as (xmin, ymin, xmax, ymax).
func (g Geometry) Corners() (xmin, ymin, xmax, ymax float64, err error) {
	return BoxCorners(g.Box, g.BoxFormat)
}

// BoxCorners converts a box in the given format to (xmin, ymin, xmax, ymax).
func BoxCorners(box []float64, format BoxFormat) (xmin, ymin, xmax, ymax float64, err error) {
	if len(box) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("%w: box needs 4 values, got %d", ErrInvalidGeometry, len(box))
	}
	for _, v := range box {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, 0, 0, fmt.Errorf("%w: non-finite coordinate", ErrInvalidGeometry)
		}
	}

	switch format {
	case BoxXYXY, BoxXYXYN, "":
		xmin, xmax = math.Min(box[0], box[2]), math.Max(box[0], box[2])
		ymin, ymax = math.Min(box[1], box[3]), math.Max(box[1], box[3])
	case BoxXYWH:
		if box[2] < 0 || box[3] < 0 {
			return 0, 0, 0, 0, fmt.Errorf("%w: negative box size", ErrInvalidGeometry)
		}
		xmin, xmax = box[0]-box[2]/2, box[0]+box[2]/2
		ymin, ymax = box[1]-box[3]/2, box[1]+box[3]/2
	default:
		return 0, 0, 0, 0, fmt.Errorf("%w: unknown box format %q", ErrInvalidGeometry, format)
	}
	return xmin, ymin, xmax, ymax, nil
}

type geometryDoc struct {
	XYXY    []float64   `json:"xyxy"`
	XYXYN   []float64   `json:"xyxyn"`
	XYWH    []float64   `json:"xywh"`
	Polygon [][]float64 `json:"polygon"`
}

// ParseGeometry decodes annotation.data. A bare array is a legacy xyxy box;
// an object carries exactly one of xyxy, xyxyn, xywh or polygon.
func ParseGeometry(raw []byte) (Geometry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Geometry{}, ErrInvalidGeometry
	}

	if raw[0] == '[' {
		var box []float64
		if err := json.Unmarshal(raw, &box); err != nil {
			return Geometry{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
		}
		return newBoxGeometry(box, BoxXYXY)
	}

	var doc geometryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Geometry{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}

	switch {
	case doc.XYXY != nil:
		return newBoxGeometry(doc.XYXY, BoxXYXY)
	case doc.XYXYN != nil:
		return newBoxGeometry(doc.XYXYN, BoxXYXYN)
	case doc.XYWH != nil:
		return newBoxGeometry(doc.XYWH, BoxXYWH)
	case doc.Polygon != nil:
		return newPolygonGeometry(doc.Polygon)
	default:
		return Geometry{}, ErrInvalidGeometry
	}
}

func newBoxGeometry(box []float64, format BoxFormat) (Geometry, error) {
	if _, _, _, _, err := BoxCorners(box, format); err != nil {
		return Geometry{}, err
	}
	return Geometry{Box: box, BoxFormat: format}, nil
}

func newPolygonGeometry(points [][]float64) (Geometry, error) {
	if len(points) < 3 {
		return Geometry{}, fmt.Errorf("%w: polygon needs at least 3 points", ErrInvalidGeometry)
	}
	poly := make([][2]float64, 0, len(points))
	for _, p := range points {
		if len(p) != 2 || math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			return Geometry{}, fmt.Errorf("%w: polygon point must be a finite [x, y] pair", ErrInvalidGeometry)
		}
		poly = append(poly, [2]float64{p[0], p[1]})
	}
	return Geometry{Polygon: poly}, nil
}

// Label is an augmentation label: a class id, a class name, or both when the
// name is numeric.
type Label struct {
	ClassID int
	HasID   bool
	Name    string
}

func (l *Label) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = LabelFromString(s)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("label must be a number or a string: %w", err)
	}
	if f != math.Trunc(f) || f < 0 {
		return fmt.Errorf("label %v is not a class id", f)
	}
	*l = Label{ClassID: int(f), HasID: true, Name: strconv.Itoa(int(f))}
	return nil
}

func LabelFromString(s string) Label {
	s = strings.TrimSpace(s)
	if id, err := strconv.Atoi(s); err == nil && id >= 0 {
		return Label{ClassID: id, HasID: true, Name: s}
	}
	return Label{Name: s}
}

type augmentedAnnotationDoc struct {
	BBoxes     [][]float64 `json:"bboxes"`
	Labels     []Label     `json:"labels"`
	BBoxFormat string      `json:"bbox_format"`
}

// ParseAugmentedAnnotation decodes augmentation.augmented_annotation. A null
// or empty document yields no pairs.
func ParseAugmentedAnnotation(raw []byte) (boxes [][]float64, format BoxFormat, labels []Label, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, BoxXYXY, nil, nil
	}

	var doc augmentedAnnotationDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	format, err = ParseBoxFormat(doc.BBoxFormat)
	if err != nil {
		return nil, "", nil, err
	}
	if len(doc.BBoxes) != len(doc.Labels) {
		return nil, "", nil, fmt.Errorf("%w: %d boxes but %d labels", ErrInvalidGeometry, len(doc.BBoxes), len(doc.Labels))
	}
	return doc.BBoxes, format, doc.Labels, nil
}
