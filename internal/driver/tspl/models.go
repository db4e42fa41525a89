package tspl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orrn/label-api/internal/driver"
)

type Model struct {
	Name       string
	DPI        int
	MaxWidthMM float64
}

var models = map[string]Model{
	"TE200":       {Name: "TE200", DPI: 203, MaxWidthMM: 108},
	"TE300":       {Name: "TE300", DPI: 300, MaxWidthMM: 106},
	"TTP-244 PRO": {Name: "TTP-244 Pro", DPI: 203, MaxWidthMM: 104},
	"TX600":       {Name: "TX600", DPI: 600, MaxWidthMM: 105.7},
}

func LookupModel(name string) (Model, error) {
	m, ok := models[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q (supported: %s)", driver.ErrUnknownModel, name, strings.Join(ModelNames(), ", "))
	}
	return m, nil
}

func ModelNames() []string {
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

func mmToDots(mm float64, dpi int) int {
	dotsPerMM := float64(dpi) / 25.4
	return int(mm * dotsPerMM)
}

func dotsToMM(dots int, dpi int) float64 {
	return float64(dots) * 25.4 / float64(dpi)
}
