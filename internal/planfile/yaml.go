// Package planfile loads a PlanSpec from a YAML plan file on disk, the
// on-disk counterpart to the JobSpec/PlanSpec yaml tags in internal/plan,
// in the teacher's config.LoadConfig style: read the file, yaml.Unmarshal
// into the typed struct, wrap any error with the path for a useful message.
package planfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orcworks/orc/internal/plan"
)

// Load reads a YAML plan file at path into a plan.PlanSpec.
func Load(path string) (plan.PlanSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return plan.PlanSpec{}, fmt.Errorf("read plan file %s: %w", path, err)
	}
	var spec plan.PlanSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return plan.PlanSpec{}, fmt.Errorf("parse plan file %s: %w", path, err)
	}
	return spec, nil
}

// Save writes spec back to path as YAML; tests use it to put a fixture plan
// file on disk.
func Save(path string, spec plan.PlanSpec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal plan spec: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write plan file %s: %w", path, err)
	}
	return nil
}
