package tspl

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/orrn/label-api/internal/driver"
)

const (
	defaultLabel     = "50x30"
	defaultThreshold = 70
	defaultGapMM     = 2
)

// Options are the conversion parameters read from a print request. Keys the
// converter does not know are ignored.
type Options struct {
	WidthMM   float64
	HeightMM  float64 // 0 for continuous media
	GapMM     float64
	Rotate    string
	Threshold float64
	Dither    bool
	Cut       *bool
	Copies    int
	Density   *int
	Speed     *float64
}

func ParseOptions(raw map[string]any) (*Options, error) {
	opts := &Options{
		GapMM:     defaultGapMM,
		Rotate:    "auto",
		Threshold: defaultThreshold,
		Copies:    1,
	}

	label := defaultLabel
	if v, ok := raw["label"]; ok {
		s, err := asString(v)
		if err != nil {
			return nil, optionError("label", v, err)
		}
		label = s
	}
	w, h, err := parseLabel(label)
	if err != nil {
		return nil, optionError("label", label, err)
	}
	opts.WidthMM, opts.HeightMM = w, h
	if h == 0 {
		opts.GapMM = 0
	}

	if v, ok := raw["gap"]; ok {
		f, err := asFloat(v)
		if err != nil || f < 0 {
			return nil, optionError("gap", v, err)
		}
		opts.GapMM = f
	}

	if v, ok := raw["rotate"]; ok {
		s, err := asString(v)
		if err != nil {
			return nil, optionError("rotate", v, err)
		}
		switch s {
		case "auto", "0", "90", "180", "270":
			opts.Rotate = s
		default:
			return nil, optionError("rotate", v, fmt.Errorf("must be one of auto, 0, 90, 180, 270"))
		}
	}

	if v, ok := raw["threshold"]; ok {
		f, err := asFloat(v)
		if err != nil || f < 0 || f > 100 {
			return nil, optionError("threshold", v, fmt.Errorf("must be between 0 and 100"))
		}
		opts.Threshold = f
	}

	if v, ok := raw["dither"]; ok {
		b, err := asBool(v)
		if err != nil {
			return nil, optionError("dither", v, err)
		}
		opts.Dither = b
	}

	if v, ok := raw["cut"]; ok {
		b, err := asBool(v)
		if err != nil {
			return nil, optionError("cut", v, err)
		}
		opts.Cut = &b
	}

	if v, ok := raw["copies"]; ok {
		n, err := asInt(v)
		if err != nil || n < 1 {
			return nil, optionError("copies", v, fmt.Errorf("must be a positive integer"))
		}
		opts.Copies = n
	}

	if v, ok := raw["density"]; ok {
		n, err := asInt(v)
		if err != nil || n < 0 || n > 15 {
			return nil, optionError("density", v, fmt.Errorf("must be between 0 and 15"))
		}
		opts.Density = &n
	}

	if v, ok := raw["speed"]; ok {
		f, err := asFloat(v)
		if err != nil || f <= 0 || f > 14 {
			return nil, optionError("speed", v, fmt.Errorf("must be between 1 and 14"))
		}
		opts.Speed = &f
	}

	return opts, nil
}

// parseLabel accepts "62" for continuous media of that width or "50x30" for
// die-cut labels, both in millimetres.
func parseLabel(label string) (float64, float64, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	widthStr, heightStr, dieCut := strings.Cut(label, "x")

	width, err := strconv.ParseFloat(widthStr, 64)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid label width %q", widthStr)
	}
	if !dieCut {
		return width, 0, nil
	}

	height, err := strconv.ParseFloat(heightStr, 64)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid label height %q", heightStr)
	}
	return width, height, nil
}

func optionError(name string, value any, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s=%v", driver.ErrInvalidOption, name, value)
	}
	return fmt.Errorf("%w: %s=%v: %v", driver.ErrInvalidOption, name, value, err)
}

func asString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	default:
		return "", fmt.Errorf("unexpected type %T", v)
	}
}

func asFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func asInt(v any) (int, error) {
	f, err := asFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer")
	}
	return int(f), nil
}

func asBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case float64:
		return val != 0, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(val))
	default:
		return false, fmt.Errorf("unexpected type %T", v)
	}
}
