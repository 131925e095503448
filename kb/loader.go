package kb

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/location-coordinator/model"
)

// internal YAML shapes; unexported so the file format can evolve.
type catalogYAML struct {
	Modules []moduleYAML `yaml:"modules"`
}

type moduleYAML struct {
	Handle       *int32 `yaml:"handle"`
	Name         string `yaml:"name"`
	Class        string `yaml:"class"`
	GNSSAttached bool   `yaml:"gnss_attached"`
	Wifi         bool   `yaml:"wifi"`
}

// ParseCatalog decodes a YAML module list. It fails on syntax errors,
// missing handles and unknown classes; semantic validation happens when
// the descriptors are added to a Catalog.
func ParseCatalog(r io.Reader) ([]model.ModuleDescriptor, error) {
	var payload catalogYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("ParseCatalog: decode failed: %w", err)
	}

	mods := make([]model.ModuleDescriptor, 0, len(payload.Modules))
	for i, m := range payload.Modules {
		if m.Handle == nil {
			return nil, fmt.Errorf("ParseCatalog: module #%d (%q) has no handle", i, m.Name)
		}
		class, err := model.ParseModuleClass(m.Class)
		if err != nil {
			return nil, fmt.Errorf("ParseCatalog: module %d: %w", *m.Handle, err)
		}
		mods = append(mods, model.ModuleDescriptor{
			Handle:       model.ModuleHandle(*m.Handle),
			Name:         m.Name,
			Class:        class,
			GNSSAttached: m.GNSSAttached,
			Wifi:         m.Wifi,
		})
	}
	return mods, nil
}

// LoadCatalog reads a YAML module list from r and replaces the catalog
// contents with it. It returns the number of modules loaded.
func LoadCatalog(c *Catalog, r io.Reader) (int, error) {
	if c == nil {
		return 0, fmt.Errorf("LoadCatalog: catalog is nil")
	}
	mods, err := ParseCatalog(r)
	if err != nil {
		return 0, err
	}
	if err := c.Replace(mods); err != nil {
		return 0, fmt.Errorf("LoadCatalog: %w", err)
	}
	return len(mods), nil
}

// LoadCatalogFile is LoadCatalog over the file at path.
func LoadCatalogFile(c *Catalog, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("LoadCatalogFile: %w", err)
	}
	defer f.Close()
	return LoadCatalog(c, f)
}
