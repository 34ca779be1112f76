package action

import (
	"fmt"
	"strings"

	"github.com/compozy/codeassist/pkg/config"
	"github.com/go-playground/validator/v10"
)

// Params are the fixed per-action request parameters.
type Params struct {
	Language           string
	OptimizationTarget string
	DocumentationStyle string
	Debug              bool
	Optimize           bool
	Document           bool
	ErrorMessages      []string
	FilePath           string
	CommitMessage      string
	Branch             string
}

// ParamsFromConfig seeds Params from the actions config section.
func ParamsFromConfig(cfg *config.ActionsConfig) Params {
	if cfg == nil {
		cfg = &config.Default().Actions
	}
	return Params{
		Language:           cfg.Language,
		OptimizationTarget: cfg.OptimizationTarget,
		DocumentationStyle: cfg.DocumentationStyle,
		Debug:              cfg.GenerateDebug,
		Optimize:           cfg.GenerateOptimize,
		Document:           cfg.GenerateDocument,
		Branch:             cfg.PublishBranch,
	}
}

type GenerateRequest struct {
	Prompt   string `json:"prompt"   validate:"required"`
	Language string `json:"language" validate:"required"`
	Debug    bool   `json:"debug"`
	Optimize bool   `json:"optimize"`
	Document bool   `json:"document"`
}

type DebugRequest struct {
	Code          string   `json:"code"                     validate:"required"`
	Language      string   `json:"language"                 validate:"required"`
	ErrorMessages []string `json:"error_messages,omitempty"`
}

type OptimizeRequest struct {
	Code               string `json:"code"                validate:"required"`
	Language           string `json:"language"            validate:"required"`
	OptimizationTarget string `json:"optimization_target" validate:"required"`
}

type DocumentRequest struct {
	Code               string `json:"code"                validate:"required"`
	Language           string `json:"language"            validate:"required"`
	DocumentationStyle string `json:"documentation_style" validate:"required"`
}

type PublishRequest struct {
	Code          string `json:"code"           validate:"required"`
	FilePath      string `json:"file_path"      validate:"required"`
	CommitMessage string `json:"commit_message" validate:"required"`
	Branch        string `json:"branch"         validate:"required"`
}

var validate = validator.New()

// BuildRequest produces the JSON body for the action's creation endpoint.
func (d Descriptor) BuildRequest(input string, p Params) (any, error) {
	var body any
	switch d.Name {
	case Generate:
		body = &GenerateRequest{
			Prompt:   input,
			Language: p.Language,
			Debug:    p.Debug,
			Optimize: p.Optimize,
			Document: p.Document,
		}
	case Debug:
		body = &DebugRequest{Code: input, Language: p.Language, ErrorMessages: p.ErrorMessages}
	case Optimize:
		body = &OptimizeRequest{Code: input, Language: p.Language, OptimizationTarget: p.OptimizationTarget}
	case Document:
		body = &DocumentRequest{Code: input, Language: p.Language, DocumentationStyle: p.DocumentationStyle}
	case Publish:
		msg := strings.TrimSpace(p.CommitMessage)
		if msg == "" && p.FilePath != "" {
			msg = fmt.Sprintf("Update %s", p.FilePath)
		}
		body = &PublishRequest{Code: input, FilePath: p.FilePath, CommitMessage: msg, Branch: p.Branch}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, d.Name)
	}
	if err := validate.Struct(body); err != nil {
		return nil, fmt.Errorf("invalid %s request: %w", d.Name, err)
	}
	return body, nil
}
