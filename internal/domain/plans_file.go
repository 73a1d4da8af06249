package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type plansFile struct {
	Free  string `yaml:"free"`
	Plans []Plan `yaml:"plans"`
}

// LoadCatalogFile reads a YAML plan catalog:
//
//	free: free
//	plans:
//	  - id: free
//	    name: Free
//	    limits:
//	      jarvisConversationsPerMonth: 10
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML plan catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f plansFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plans file: %w", err)
	}
	if f.Free == "" {
		f.Free = FreePlanID
	}
	return NewCatalog(f.Plans, f.Free)
}
