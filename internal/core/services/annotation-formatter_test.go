package services

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataset-export-service/internal/core/domain"
)

func boxAnnotation(t *testing.T, raw string) domain.Annotation {
	t.Helper()
	ann := domain.NewAnnotation(1, 1, &domain.AnnotationClass{ClassID: 3, Name: "red car"}, []byte(raw), true)
	require.NoError(t, ann.GeometryErr)
	return ann
}

func TestFormatAnnotation_Box(t *testing.T) {
	ann := boxAnnotation(t, `[0.1, 0.2, 0.5, 0.6]`)

	tests := []struct {
		format domain.ExportFormat
		want   string
	}{
		{domain.FormatYOLO, "3 0.3 0.4 0.4 0.4\n"},
		{domain.FormatCOCO, "3 0.1 0.2 0.4 0.4\n"},
		{domain.FormatCustom, "red_car 0.1 0.2 0.5 0.6\n"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			line, err := FormatAnnotation(ann, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.want, line)
		})
	}
}

func TestFormatAnnotation_BoxFormatsAgree(t *testing.T) {
	xyxy := boxAnnotation(t, `{"xyxy": [0.1, 0.2, 0.5, 0.6]}`)
	xywh := boxAnnotation(t, `{"xywh": [0.3, 0.4, 0.4, 0.4]}`)

	for _, format := range []domain.ExportFormat{domain.FormatYOLO, domain.FormatCOCO, domain.FormatCustom} {
		a, err := FormatAnnotation(xyxy, format)
		require.NoError(t, err)
		b, err := FormatAnnotation(xywh, format)
		require.NoError(t, err)
		assert.Equal(t, a, b, format)
	}
}

func TestFormatAnnotation_YOLORoundTrip(t *testing.T) {
	const line = "3 0.3 0.4 0.4 0.4\n"

	fields := strings.Fields(line)
	box := make([]float64, 0, 4)
	for _, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		require.NoError(t, err)
		box = append(box, v)
	}
	classID, err := strconv.Atoi(fields[0])
	require.NoError(t, err)

	got, err := FormatPair(box, domain.BoxXYWH, domain.Label{ClassID: classID, HasID: true}, domain.FormatYOLO)
	require.NoError(t, err)
	assert.Equal(t, line, got)
}

func TestFormatAnnotation_PreciseBoxKeepsEveryDigit(t *testing.T) {
	ann := boxAnnotation(t, `[0.123456789, 0.2, 0.987654321, 0.6]`)

	line, err := FormatAnnotation(ann, domain.FormatCOCO)
	require.NoError(t, err)
	assert.Equal(t, "3 0.123456789 0.2 0.864197532 0.4\n", line)

	line, err = FormatAnnotation(ann, domain.FormatCustom)
	require.NoError(t, err)
	assert.Equal(t, "red_car 0.123456789 0.2 0.987654321 0.6\n", line)

	fields := strings.Fields(line)
	for i, want := range []float64{0.123456789, 0.2, 0.987654321, 0.6} {
		got, err := strconv.ParseFloat(fields[i+1], 64)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	line, err = FormatAnnotation(ann, domain.FormatYOLO)
	require.NoError(t, err)
	assert.Equal(t, "3 0.555556 0.4 0.864198 0.4\n", line)
}

func TestFormatAnnotation_CenterBoxConvertsExactly(t *testing.T) {
	ann := boxAnnotation(t, `{"xywh": [0.35, 0.45, 0.3, 0.1]}`)

	line, err := FormatAnnotation(ann, domain.FormatCustom)
	require.NoError(t, err)
	assert.Equal(t, "red_car 0.2 0.4 0.5 0.5\n", line)

	line, err = FormatAnnotation(ann, domain.FormatCOCO)
	require.NoError(t, err)
	assert.Equal(t, "3 0.2 0.4 0.3 0.1\n", line)
}

func TestFormatAnnotation_Polygon(t *testing.T) {
	ann := boxAnnotation(t, `{"polygon": [[0.1, 0.1], [0.5, 0.1], [0.3, 0.4]]}`)

	line, err := FormatAnnotation(ann, domain.FormatYOLO)
	require.NoError(t, err)
	assert.Equal(t, "3 0.1 0.1 0.5 0.1 0.3 0.4\n", line)

	line, err = FormatAnnotation(ann, domain.FormatCustom)
	require.NoError(t, err)
	assert.Equal(t, "red_car 0.1 0.1 0.5 0.1 0.3 0.4\n", line)
}

func TestFormatAnnotation_Malformed(t *testing.T) {
	ann := domain.NewAnnotation(1, 1, &domain.AnnotationClass{ClassID: 3}, []byte(`{"xyxy": [1, 2]}`), true)
	_, err := FormatAnnotation(ann, domain.FormatYOLO)
	assert.ErrorIs(t, err, domain.ErrInvalidGeometry)

	noClass := domain.NewAnnotation(2, 1, nil, []byte(`[0, 0, 1, 1]`), true)
	_, err = FormatAnnotation(noClass, domain.FormatCOCO)
	assert.ErrorIs(t, err, domain.ErrMissingClass)
}

func TestFormatAnnotation_UnsupportedFormat(t *testing.T) {
	ann := boxAnnotation(t, `[0.1, 0.2, 0.5, 0.6]`)
	_, err := FormatAnnotation(ann, domain.ExportFormat("voc"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestFormatAnnotations_SkipsBadRows(t *testing.T) {
	good := boxAnnotation(t, `[0.1, 0.2, 0.5, 0.6]`)
	bad := domain.NewAnnotation(9, 1, &domain.AnnotationClass{ClassID: 1}, []byte(`{}`), true)

	text, skipped := FormatAnnotations([]domain.Annotation{good, bad, good}, domain.FormatYOLO)
	assert.Equal(t, "3 0.3 0.4 0.4 0.4\n3 0.3 0.4 0.4 0.4\n", text)
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0], domain.ErrInvalidGeometry)
	assert.Contains(t, skipped[0].Error(), "annotation 9")
}

func TestFormatAnnotations_Empty(t *testing.T) {
	text, skipped := FormatAnnotations(nil, domain.FormatCOCO)
	assert.Empty(t, text)
	assert.Empty(t, skipped)
}

func TestFormatAugmentation(t *testing.T) {
	aug := domain.NewAugmentation(4, 101, "aug/img1_flip.jpg", []byte(`{"bboxes": [[0.1, 0.2, 0.5, 0.6], [0, 0, 0.5, 0.5]], "labels": [1, "cat"], "bbox_format": "xyxy"}`))
	require.NoError(t, aug.AnnotationErr)

	text, skipped := FormatAugmentation(aug, domain.FormatYOLO)
	assert.Equal(t, "1 0.3 0.4 0.4 0.4\n", text)
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0], domain.ErrMissingClass)

	text, skipped = FormatAugmentation(aug, domain.FormatCustom)
	assert.Equal(t, "1 0.1 0.2 0.5 0.6\ncat 0 0 0.5 0.5\n", text)
	assert.Empty(t, skipped)
}

func TestFormatAugmentation_Undecodable(t *testing.T) {
	aug := domain.NewAugmentation(4, 101, "aug/x.jpg", []byte(`{"bboxes": [[0, 0, 1, 1]], "labels": []}`))
	text, skipped := FormatAugmentation(aug, domain.FormatCOCO)
	assert.Empty(t, text)
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0], domain.ErrInvalidGeometry)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0.333333", formatNumber(1.0/3, yoloDigits))
	assert.Equal(t, "0", formatNumber(-0.0, yoloDigits))
	assert.Equal(t, "1", formatNumber(1, yoloDigits))
	assert.Equal(t, "1e-07", formatNumber(0.0000001, yoloDigits))
	assert.Equal(t, "0.3333333333333333", formatNumber(1.0/3, -1))
	assert.Equal(t, "0", formatNumber(-0.0, -1))
}
