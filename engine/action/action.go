package action

import (
	"errors"
	"fmt"
	"strings"
)

// Name identifies one of the fixed user actions.
type Name string

const (
	Generate Name = "generate"
	Debug    Name = "debug"
	Optimize Name = "optimize"
	Document Name = "document"
	Publish  Name = "publish"
)

var ErrUnknownAction = errors.New("unknown action")

// Descriptor binds an action to its page elements, endpoint, and result field.
type Descriptor struct {
	Name Name
	// TriggerID, InputID and OutputID keep the element ids of the web page so
	// output slots line up with the original surface.
	TriggerID   string
	InputID     string
	OutputID    string
	Endpoint    string
	ResultField string
	Title       string
	// EmptyInput is shown when the input is blank.
	EmptyInput string
	// FailureMessage is the generic message for transport and parse errors.
	FailureMessage string
}

var descriptors = []Descriptor{
	{
		Name:           Generate,
		TriggerID:      "generate-code-btn",
		InputID:        "code-prompt",
		OutputID:       "generated-code",
		Endpoint:       "/generate-code",
		ResultField:    "code",
		Title:          "Generated Code",
		EmptyInput:     "Please enter a coding prompt.",
		FailureMessage: "Failed to generate code. Please try again.",
	},
	{
		Name:           Debug,
		TriggerID:      "debug-code-btn",
		InputID:        "debug-code-input",
		OutputID:       "debugged-code",
		Endpoint:       "/debug-code",
		ResultField:    "code",
		Title:          "Debugged Code",
		EmptyInput:     "Please paste code to debug.",
		FailureMessage: "Failed to debug code. Please try again.",
	},
	{
		Name:           Optimize,
		TriggerID:      "optimize-code-btn",
		InputID:        "optimize-code-input",
		OutputID:       "optimized-code",
		Endpoint:       "/optimize-code",
		ResultField:    "code",
		Title:          "Optimized Code",
		EmptyInput:     "Please paste code to optimize.",
		FailureMessage: "Failed to optimize code. Please try again.",
	},
	{
		Name:           Document,
		TriggerID:      "document-code-btn",
		InputID:        "document-code-input",
		OutputID:       "documented-code",
		Endpoint:       "/document-code",
		ResultField:    "code",
		Title:          "Documented Code",
		EmptyInput:     "Please paste code to document.",
		FailureMessage: "Failed to document code. Please try again.",
	},
	{
		Name:           Publish,
		TriggerID:      "publish-code-btn",
		InputID:        "publish-code-input",
		OutputID:       "published-code",
		Endpoint:       "/github-integration",
		ResultField:    "commit_url",
		Title:          "Published Commit",
		EmptyInput:     "Please paste code to publish.",
		FailureMessage: "Failed to publish code. Please try again.",
	},
}

// All returns a copy of every descriptor in display order.
func All() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Names lists the action names in display order.
func Names() []string {
	out := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, string(d.Name))
	}
	return out
}

// Lookup finds a descriptor by action name, case-insensitively.
func Lookup(name string) (Descriptor, error) {
	n := Name(strings.ToLower(strings.TrimSpace(name)))
	for _, d := range descriptors {
		if d.Name == n {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q (expected one of %s)", ErrUnknownAction, name, strings.Join(Names(), ", "))
}

// MustLookup is Lookup for the built-in names.
func MustLookup(name Name) Descriptor {
	d, err := Lookup(string(name))
	if err != nil {
		panic(err)
	}
	return d
}
