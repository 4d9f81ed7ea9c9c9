package core

import (
	"fmt"
	"io"

	"github.com/goccy/go-yaml"

	"github.com/signalsfoundry/geofence/model"
)

// AreaFile is the on-disk shape of a seed file:
//
//	areas:
//	  - name: Warehouse
//	    description: Loading docks
//	    boundary: [[18.0254, -102.2070], [18.0258, -102.2070], [18.0258, -102.2064]]
//	    strokeColor: "#0000FF"
//	    fillColor: "#AAAADD"
//	    devices: [reader-1]
type areaFile struct {
	Areas []areaYAML `yaml:"areas"`
}

type areaYAML struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Boundary    [][2]float64 `yaml:"boundary"`
	StrokeColor string       `yaml:"strokeColor"`
	FillColor   string       `yaml:"fillColor"`
	Devices     []string     `yaml:"devices"`
}

// LoadAreas reads a YAML seed file from r and adds every area it lists to
// reg in file order. It stops at the first area the registry rejects and
// returns the areas added so far.
func LoadAreas(reg *AreaRegistry, r io.Reader) ([]model.Area, error) {
	if reg == nil {
		return nil, fmt.Errorf("LoadAreas: registry is nil")
	}

	var payload areaFile
	if err := yaml.NewDecoder(r).Decode(&payload); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("LoadAreas: decode failed: %w", err)
	}

	added := make([]model.Area, 0, len(payload.Areas))
	for i, a := range payload.Areas {
		boundary := make([]model.Coordinate, len(a.Boundary))
		for k, pair := range a.Boundary {
			boundary[k] = model.Coordinate{Lat: pair[0], Lng: pair[1]}
		}
		area, err := reg.Add(model.AreaSpec{
			Name:        a.Name,
			Description: a.Description,
			Boundary:    boundary,
			StrokeColor: a.StrokeColor,
			FillColor:   a.FillColor,
			Devices:     a.Devices,
		})
		if err != nil {
			return added, fmt.Errorf("LoadAreas: area %d (%q): %w", i, a.Name, err)
		}
		added = append(added, area)
	}
	return added, nil
}
