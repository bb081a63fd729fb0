// Package module describes training modules: what a learner must do to finish
// one and what certification it grants.
package module

import (
	"fmt"
	"sort"
	"strings"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
)

// DefaultCreditCategory is the breakdown bucket used when a module names none.
const DefaultCreditCategory = "training"

// CertificationSpec is the certificate a module grants on completion.
type CertificationSpec struct {
	Name        string `json:"name" yaml:"name"`
	Level       string `json:"level" yaml:"level"`
	CreditValue int    `json:"creditValue" yaml:"creditValue"`
}

// Definition is one module of the catalog.
type Definition struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description"`

	// Category is the credits breakdown bucket that session credits go to.
	Category string `json:"category" yaml:"category"`

	// RequiredSessions completed sessions make the module 100% complete.
	RequiredSessions int `json:"requiredSessions" yaml:"requiredSessions"`

	// TargetDurationMinutes is used for the time bonus when a session does not
	// report its own target.
	TargetDurationMinutes float64 `json:"targetDurationMinutes,omitempty" yaml:"targetDurationMinutes"`

	RequiredMilestones []string `json:"requiredMilestones,omitempty" yaml:"requiredMilestones"`

	// MinAssessmentScore is nil when the module has no assessment gate.
	MinAssessmentScore *float64 `json:"minAssessmentScore,omitempty" yaml:"minAssessmentScore"`

	Certification CertificationSpec `json:"certification" yaml:"certification"`
}

// CreditCategory returns the breakdown bucket for session credits.
func (d Definition) CreditCategory() string {
	if d.Category == "" {
		return DefaultCreditCategory
	}
	return d.Category
}

// Validate checks the definition for values the engine cannot work with.
func (d Definition) Validate() error {
	var problems []string

	if _, err := shared.NewModuleID(d.ID); err != nil {
		problems = append(problems, fmt.Sprintf("id %q is not a valid module id", d.ID))
	}
	if strings.TrimSpace(d.Title) == "" {
		problems = append(problems, "title is required")
	}
	if d.RequiredSessions <= 0 {
		problems = append(problems, "requiredSessions must be positive")
	}
	if d.TargetDurationMinutes < 0 {
		problems = append(problems, "targetDurationMinutes cannot be negative")
	}
	if d.MinAssessmentScore != nil && (*d.MinAssessmentScore < 0 || *d.MinAssessmentScore > 100) {
		problems = append(problems, "minAssessmentScore must be within 0-100")
	}
	if d.Certification.Name == "" {
		problems = append(problems, "certification.name is required")
	}
	if d.Certification.CreditValue < 0 {
		problems = append(problems, "certification.creditValue cannot be negative")
	}

	seen := make(map[string]struct{}, len(d.RequiredMilestones))
	for _, m := range d.RequiredMilestones {
		if m == "" {
			problems = append(problems, "requiredMilestones cannot contain empty names")
			continue
		}
		if _, dup := seen[m]; dup {
			problems = append(problems, fmt.Sprintf("milestone %q listed twice", m))
		}
		seen[m] = struct{}{}
	}

	if len(problems) > 0 {
		return shared.WrapError("module", "Validate", shared.ErrValidation,
			fmt.Sprintf("module %q is invalid", d.ID),
			fmt.Errorf("%s", strings.Join(problems, "; ")))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog resolves module definitions by ID.
type Catalog interface {
	// Get returns shared.ErrModuleNotFound for unknown modules.
	Get(id string) (Definition, error)

	// List returns all modules ordered by ID.
	List() []Definition
}

// StaticCatalog is an immutable in-memory catalog.
type StaticCatalog struct {
	byID map[string]Definition
	list []Definition
}

// NewStaticCatalog validates the definitions and indexes them by ID.
func NewStaticCatalog(defs ...Definition) (*StaticCatalog, error) {
	c := &StaticCatalog{byID: make(map[string]Definition, len(defs))}

	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, shared.NewDomainError("module", "NewCatalog", shared.ErrValidation,
				fmt.Sprintf("module %q defined twice", d.ID))
		}
		c.byID[d.ID] = d
		c.list = append(c.list, d)
	}

	sort.Slice(c.list, func(i, j int) bool { return c.list[i].ID < c.list[j].ID })
	return c, nil
}

// MustStaticCatalog is NewStaticCatalog for fixtures known to be valid.
func MustStaticCatalog(defs ...Definition) *StaticCatalog {
	c, err := NewStaticCatalog(defs...)
	if err != nil {
		panic(err)
	}
	return c
}

// Get implements Catalog.
func (c *StaticCatalog) Get(id string) (Definition, error) {
	d, ok := c.byID[id]
	if !ok {
		return Definition{}, shared.ErrModuleNotFound
	}
	return d, nil
}

// List implements Catalog.
func (c *StaticCatalog) List() []Definition {
	out := make([]Definition, len(c.list))
	copy(out, c.list)
	return out
}
