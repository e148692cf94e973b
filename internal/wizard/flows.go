package wizard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	FlowDataCollection = "data-collection"
	FlowAccountSetup   = "account-setup"
)

// Flows maps a flow name to its ordered steps.
type Flows map[string][]Step

// DefaultFlows returns the built-in guided flows.
func DefaultFlows() Flows {
	return Flows{
		FlowDataCollection: {
			{Key: "account-setup", Title: "Account Setup", Domain: "accountSetup"},
			{Key: "employee-eligibility", Title: "Employee Eligibility", Domain: "eligibilityFile", Upload: true},
			{Key: "plan-configuration", Title: "Plan Configuration", Domain: "planCompliance"},
			{Key: "document-upload", Title: "Document Upload", Upload: true},
		},
		FlowAccountSetup: {
			{Key: "company-info", Title: "Company Info"},
			{Key: "contacts", Title: "Contacts"},
			{Key: "address", Title: "Address"},
			{Key: "review", Title: "Review"},
		},
	}
}

func (f Flows) Names() []string {
	out := make([]string, 0, len(f))
	for name := range f {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start creates a navigator for the named flow.
func (f Flows) Start(name string) (*Navigator, error) {
	steps, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlow, name)
	}
	return New(steps)
}

var ErrUnknownFlow = errors.New("unknown wizard flow")

// LoadFlows reads flow definitions from YAML:
//
//	flows:
//	  data-collection:
//	    - key: account-setup
//	      title: Account Setup
func LoadFlows(r io.Reader) (Flows, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read flows: %w", err)
	}
	var doc struct {
		Flows Flows `yaml:"flows"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode flows: %w", err)
	}
	if len(doc.Flows) == 0 {
		return nil, errors.New("decode flows: no flows defined")
	}
	for name, steps := range doc.Flows {
		if err := validateSteps(steps); err != nil {
			return nil, fmt.Errorf("flow %s: %w", name, err)
		}
	}
	return doc.Flows, nil
}

// LoadFlowsFile merges flows from path over the defaults. An empty path
// yields the defaults.
func LoadFlowsFile(path string) (Flows, error) {
	flows := DefaultFlows()
	if path == "" {
		return flows, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flows: %w", err)
	}
	defer f.Close()
	loaded, err := LoadFlows(f)
	if err != nil {
		return nil, err
	}
	for name, steps := range loaded {
		flows[name] = steps
	}
	return flows, nil
}
