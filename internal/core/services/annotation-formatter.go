package services

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"dataset-export-service/internal/core/domain"
)

// FormatAnnotation renders one stored annotation as a label line.
func FormatAnnotation(ann domain.Annotation, format domain.ExportFormat) (string, error) {
	if ann.GeometryErr != nil {
		return "", ann.GeometryErr
	}
	label := domain.Label{ClassID: ann.Class.ClassID, HasID: true, Name: ann.Class.Name}
	return formatGeometry(ann.Geometry, label, format)
}

// FormatPair renders an augmentation-derived (bbox, label) pair with the same
// rules as FormatAnnotation.
func FormatPair(box []float64, boxFormat domain.BoxFormat, label domain.Label, format domain.ExportFormat) (string, error) {
	return formatGeometry(domain.Geometry{Box: box, BoxFormat: boxFormat}, label, format)
}

// FormatAnnotations concatenates the lines of anns. Annotations that cannot be
// rendered are left out and returned as errors.
func FormatAnnotations(anns []domain.Annotation, format domain.ExportFormat) (string, []error) {
	var (
		sb      strings.Builder
		skipped []error
	)
	for _, ann := range anns {
		line, err := FormatAnnotation(ann, format)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("annotation %d: %w", ann.ID, err))
			continue
		}
		sb.WriteString(line)
	}
	return sb.String(), skipped
}

// FormatAugmentation renders all pairs of an augmentation.
func FormatAugmentation(aug domain.Augmentation, format domain.ExportFormat) (string, []error) {
	if aug.AnnotationErr != nil {
		return "", []error{fmt.Errorf("augmentation %d: %w", aug.ID, aug.AnnotationErr)}
	}

	var (
		sb      strings.Builder
		skipped []error
	)
	for i, box := range aug.Boxes {
		if i >= len(aug.Labels) {
			skipped = append(skipped, fmt.Errorf("augmentation %d pair %d: %w", aug.ID, i, domain.ErrMissingClass))
			continue
		}
		line, err := FormatPair(box, aug.BoxFormat, aug.Labels[i], format)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("augmentation %d pair %d: %w", aug.ID, i, err))
			continue
		}
		sb.WriteString(line)
	}
	return sb.String(), skipped
}

func formatGeometry(g domain.Geometry, label domain.Label, format domain.ExportFormat) (string, error) {
	head, err := labelHead(label, format)
	if err != nil {
		return "", err
	}

	digits := numberDigits(format)
	values := make([]float64, 0, 8)
	if g.IsPolygon() {
		for _, p := range g.Polygon {
			values = append(values, p[0], p[1])
		}
		return joinLine(head, values, digits), nil
	}

	xmin, ymin, xmax, ymax, err := g.Corners()
	if err != nil {
		return "", err
	}

	switch format {
	case domain.FormatYOLO:
		values = append(values, (xmin+xmax)/2, (ymin+ymax)/2, xmax-xmin, ymax-ymin)
	case domain.FormatCOCO:
		c := exactCorners(g.Box, g.BoxFormat)
		values = append(values, ratFloat(c[0]), ratFloat(c[1]),
			ratFloat(new(big.Rat).Sub(c[2], c[0])), ratFloat(new(big.Rat).Sub(c[3], c[1])))
	case domain.FormatCustom:
		c := exactCorners(g.Box, g.BoxFormat)
		values = append(values, ratFloat(c[0]), ratFloat(c[1]), ratFloat(c[2]), ratFloat(c[3]))
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}
	return joinLine(head, values, digits), nil
}

// exactCorners converts a validated box to (xmin, ymin, xmax, ymax) using the
// decimal values the coordinates print as, so that derived corners and sizes
// carry no binary rounding noise.
func exactCorners(box []float64, format domain.BoxFormat) [4]*big.Rat {
	r := make([]*big.Rat, len(box))
	for i, v := range box {
		r[i] = exactDecimal(v)
	}
	if format == domain.BoxXYWH {
		half := big.NewRat(1, 2)
		hw := new(big.Rat).Mul(r[2], half)
		hh := new(big.Rat).Mul(r[3], half)
		return [4]*big.Rat{
			new(big.Rat).Sub(r[0], hw), new(big.Rat).Sub(r[1], hh),
			new(big.Rat).Add(r[0], hw), new(big.Rat).Add(r[1], hh),
		}
	}
	xmin, xmax := ordered(r[0], r[2])
	ymin, ymax := ordered(r[1], r[3])
	return [4]*big.Rat{xmin, ymin, xmax, ymax}
}

func exactDecimal(v float64) *big.Rat {
	if r, ok := new(big.Rat).SetString(strconv.FormatFloat(v, 'g', -1, 64)); ok {
		return r
	}
	return new(big.Rat).SetFloat64(v)
}

func ordered(a, b *big.Rat) (lo, hi *big.Rat) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}

func ratFloat(r *big.Rat) float64 {
	f, _ := r.Float64()
	return f
}

// labelHead is the first field of a line: class id for yolo/coco, class name
// for custom.
func labelHead(label domain.Label, format domain.ExportFormat) (string, error) {
	switch format {
	case domain.FormatYOLO, domain.FormatCOCO:
		if !label.HasID {
			return "", fmt.Errorf("%w: label %q has no class id", domain.ErrMissingClass, label.Name)
		}
		return strconv.Itoa(label.ClassID), nil
	case domain.FormatCustom:
		name := strings.Join(strings.Fields(label.Name), "_")
		if name != "" {
			return name, nil
		}
		if label.HasID {
			return strconv.Itoa(label.ClassID), nil
		}
		return "", domain.ErrMissingClass
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}
}

// yoloDigits keeps yolo lines in printf %g form.
const yoloDigits = 6

// numberDigits is the significant digit count of a format; -1 prints the
// shortest text that parses back to the same value.
func numberDigits(format domain.ExportFormat) int {
	if format == domain.FormatYOLO {
		return yoloDigits
	}
	return -1
}

func joinLine(head string, values []float64, digits int) string {
	var sb strings.Builder
	sb.WriteString(head)
	for _, v := range values {
		sb.WriteByte(' ')
		sb.WriteString(formatNumber(v, digits))
	}
	sb.WriteByte('\n')
	return sb.String()
}

// formatNumber prints v with the given significant digits and trailing zeros
// trimmed. Six digits match printf's %g.
func formatNumber(v float64, digits int) string {
	s := strconv.FormatFloat(v, 'g', digits, 64)
	if s == "-0" {
		return "0"
	}
	return s
}
