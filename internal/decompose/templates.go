package decompose

import (
	"fmt"
	"math"
	"strings"

	"github.com/t77yq/agentflow/internal/model"
)

// Domain classifies what kind of work a task is
type Domain string

const (
	DomainDevelopment Domain = "development"
	DomainAnalysis    Domain = "analysis"
	DomainDesign      Domain = "design"
	DomainTesting     Domain = "testing"
	DomainGeneric     Domain = "generic"
)

// subtaskSpec is one node of a decomposition template
type subtaskSpec struct {
	Title          string
	RequiredSkills []string
	EstimatedTime  float64
	// DependsOn holds indexes of earlier specs in the same template
	DependsOn []int
}

// template is a fixed per-domain decomposition plan. Templates are
// authored linear unless a domain needs otherwise; acyclicity is
// validated at construction, never at runtime.
type template struct {
	Domain   Domain
	Subtasks []subtaskSpec
}

// chain links each subtask to its predecessor
func chain(specs ...subtaskSpec) []subtaskSpec {
	for i := 1; i < len(specs); i++ {
		specs[i].DependsOn = []int{i - 1}
	}
	return specs
}

var templates = map[Domain]template{
	DomainDevelopment: {
		Domain: DomainDevelopment,
		Subtasks: chain(
			subtaskSpec{Title: "Requirements Analysis", RequiredSkills: []string{"requirements", "analysis"}, EstimatedTime: 2},
			subtaskSpec{Title: "Technical Design", RequiredSkills: []string{"architecture", "design"}, EstimatedTime: 3},
			subtaskSpec{Title: "Implementation", RequiredSkills: []string{"coding"}, EstimatedTime: 6},
			subtaskSpec{Title: "Testing", RequiredSkills: []string{"testing"}, EstimatedTime: 3},
		),
	},
	DomainAnalysis: {
		Domain: DomainAnalysis,
		Subtasks: chain(
			subtaskSpec{Title: "Data Gathering", RequiredSkills: []string{"research"}, EstimatedTime: 2},
			subtaskSpec{Title: "Analysis", RequiredSkills: []string{"analysis"}, EstimatedTime: 4},
			subtaskSpec{Title: "Findings Report", RequiredSkills: []string{"writing"}, EstimatedTime: 2},
		),
	},
	DomainDesign: {
		Domain: DomainDesign,
		Subtasks: chain(
			subtaskSpec{Title: "Concept Draft", RequiredSkills: []string{"design"}, EstimatedTime: 3},
			subtaskSpec{Title: "Detailed Design", RequiredSkills: []string{"design", "architecture"}, EstimatedTime: 4},
			subtaskSpec{Title: "Design Review", RequiredSkills: []string{"review"}, EstimatedTime: 1},
		),
	},
	DomainTesting: {
		Domain: DomainTesting,
		Subtasks: chain(
			subtaskSpec{Title: "Test Plan", RequiredSkills: []string{"testing", "planning"}, EstimatedTime: 2},
			subtaskSpec{Title: "Test Execution", RequiredSkills: []string{"testing"}, EstimatedTime: 4},
		),
	},
}

var domainKeywords = map[Domain][]string{
	DomainDevelopment: {"develop", "implement", "code", "build", "feature"},
	DomainAnalysis:    {"analy", "research", "investigate", "evaluate"},
	DomainDesign:      {"design", "architect", "mockup", "wireframe"},
	DomainTesting:     {"test", "qa", "verify", "validate"},
}

// classifyDomain picks a domain from tags first, then title keywords
func classifyDomain(task *model.Task) Domain {
	for _, tag := range task.Tags {
		if _, ok := templates[Domain(strings.ToLower(tag))]; ok {
			return Domain(strings.ToLower(tag))
		}
	}

	title := strings.ToLower(task.Title)
	for _, domain := range []Domain{DomainDevelopment, DomainAnalysis, DomainDesign, DomainTesting} {
		for _, kw := range domainKeywords[domain] {
			if strings.Contains(title, kw) {
				return domain
			}
		}
	}
	return DomainGeneric
}

// genericTemplate splits a task into ceil(estimatedHours/2) equal
// chained slices.
func genericTemplate(task *model.Task) template {
	parts := int(math.Ceil(task.EstimatedHours / 2))
	if parts < 1 {
		parts = 1
	}
	per := task.EstimatedHours / float64(parts)

	specs := make([]subtaskSpec, parts)
	for i := range specs {
		specs[i] = subtaskSpec{
			Title:         fmt.Sprintf("%s (part %d of %d)", task.Title, i+1, parts),
			EstimatedTime: per,
		}
	}
	return template{Domain: DomainGeneric, Subtasks: chain(specs...)}
}

// validateTemplates checks every fixed template for dependency cycles.
// Templates reference dependencies by index, so a DFS over indexes is
// enough. Called once from NewDecomposer.
func validateTemplates() error {
	for domain, tpl := range templates {
		if err := checkAcyclic(tpl); err != nil {
			return fmt.Errorf("template %s: %w", domain, err)
		}
	}
	return nil
}

// checkAcyclic runs a DFS cycle check over a template's dependency graph
func checkAcyclic(tpl template) error {
	visited := make(map[int]bool)
	path := make(map[int]bool)

	var visit func(int) error
	visit = func(current int) error {
		if path[current] {
			return fmt.Errorf("circular dependency detected at subtask %d", current)
		}
		if visited[current] {
			return nil
		}
		visited[current] = true
		path[current] = true

		if current < 0 || current >= len(tpl.Subtasks) {
			return fmt.Errorf("dependency index %d out of range", current)
		}
		for _, dep := range tpl.Subtasks[current].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path[current] = false
		return nil
	}

	for i := range tpl.Subtasks {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}
