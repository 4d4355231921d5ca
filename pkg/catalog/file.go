package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoleSpec declares a role and the permission keys it carries
type RoleSpec struct {
	Key         string   `yaml:"key"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// File is a deploy-time catalog definition
//
//	permissions:
//	  - key: project.rfis.submit
//	    description: Submit RFIs
//	roles:
//	  - key: project_manager
//	    permissions: [project.view, project.manage, portal.manage]
type File struct {
	Permissions []Permission `yaml:"permissions"`
	Roles       []RoleSpec   `yaml:"roles"`
}

// LoadFile reads and validates a catalog file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes and validates catalog YAML. Role permissions must be
// declared in the file, be built in, or be the wildcard.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	known := make(map[string]bool)
	for _, p := range Builtins() {
		known[p.Key] = true
	}
	for _, p := range f.Permissions {
		if err := ValidateKey(p.Key); err != nil {
			return nil, err
		}
		known[p.Key] = true
	}

	seen := make(map[string]bool)
	for _, r := range f.Roles {
		if r.Key == "" {
			return nil, fmt.Errorf("role key is required")
		}
		if seen[r.Key] {
			return nil, fmt.Errorf("duplicate role %q", r.Key)
		}
		seen[r.Key] = true
		for _, key := range r.Permissions {
			if key != Wildcard && !known[key] {
				return nil, fmt.Errorf("role %q references unknown permission %q", r.Key, key)
			}
		}
	}

	return &f, nil
}

// AllPermissions returns the built-in permissions followed by the file's
func (f *File) AllPermissions() []Permission {
	perms := Builtins()
	if f == nil {
		return perms
	}
	return append(perms, f.Permissions...)
}
