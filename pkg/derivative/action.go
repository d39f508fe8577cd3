package derivative

import (
	"fmt"
	"strings"
)

// ActionType distinguishes plain derivatives from text extraction.
type ActionType string

const (
	ActionDerivative ActionType = "derivative"
	ActionOCR        ActionType = "ocr"
)

// Defaults for derivative actions.
const (
	DefaultDerivativeQueue = "islandora-connector-houdini"
	DefaultDerivativePath  = "{year}-{month}/{id}.bin"
	DefaultOCRQueue        = "islandora-connector-ocr"
	DefaultOCRPath         = "{year}-{month}/{id}-extracted_text.txt"
	DefaultOCRMimetype     = "text/plain"
)

// Conditions restrict which media an action reacts to. Empty lists match
// everything.
type Conditions struct {
	Bundles         []string `yaml:"bundles" json:"bundles,omitempty"`
	SourceMimetypes []string `yaml:"source_mimetypes" json:"source_mimetypes,omitempty"`
}

// ActionConfig configures one derivative type.
type ActionConfig struct {
	ID                   string     `yaml:"id" json:"id"`
	Label                string     `yaml:"label" json:"label,omitempty"`
	Type                 ActionType `yaml:"type" json:"type"`
	Queue                string     `yaml:"queue" json:"queue"`
	SourceField          string     `yaml:"source_field" json:"source_field"`
	DestinationField     string     `yaml:"destination_field" json:"destination_field"`
	DestinationTextField string     `yaml:"destination_text_field" json:"destination_text_field,omitempty"`
	Path                 string     `yaml:"path" json:"path"`
	Scheme               string     `yaml:"scheme" json:"scheme,omitempty"`
	Mimetype             string     `yaml:"mimetype" json:"mimetype"`
	Args                 string     `yaml:"args" json:"args,omitempty"`
	Conditions           Conditions `yaml:"conditions" json:"conditions"`
}

// ApplyDefaults fills unset values with the defaults of the action type.
func (a *ActionConfig) ApplyDefaults() {
	if a.Type == "" {
		a.Type = ActionDerivative
	}
	if a.SourceField == "" {
		a.SourceField = DefaultSourceField
	}
	switch a.Type {
	case ActionOCR:
		if a.Queue == "" {
			a.Queue = DefaultOCRQueue
		}
		if a.Path == "" {
			a.Path = DefaultOCRPath
		}
		if a.Mimetype == "" {
			a.Mimetype = DefaultOCRMimetype
		}
	default:
		if a.Queue == "" {
			a.Queue = DefaultDerivativeQueue
		}
		if a.Path == "" {
			a.Path = DefaultDerivativePath
		}
	}
	a.Path = strings.Trim(a.Path, "/")
}

// Validate checks the action the way it is checked when saved, so a bad
// action never reaches dispatch.
func (a *ActionConfig) Validate() error {
	wrap := func(err error) error { return &ActionError{ActionID: a.ID, Err: err} }

	if a.ID == "" {
		return wrap(fmt.Errorf("id is required"))
	}
	if a.Type != ActionDerivative && a.Type != ActionOCR {
		return wrap(fmt.Errorf("%w: %q", ErrInvalidActionType, a.Type))
	}
	if strings.TrimSpace(a.Queue) == "" {
		return wrap(ErrMissingQueue)
	}
	top, err := validateMimetype(a.Mimetype)
	if err != nil {
		return wrap(err)
	}
	if a.DestinationField == "" {
		return wrap(ErrMissingDestinationField)
	}
	if a.DestinationField == a.SourceField {
		return wrap(ErrSameField)
	}
	if a.Type == ActionOCR {
		if top != "text" {
			return wrap(fmt.Errorf("%w: %q", ErrInvalidOCRMimetype, a.Mimetype))
		}
		if a.DestinationTextField == "" {
			return wrap(ErrMissingTextField)
		}
	}
	if err := PathTemplate(a.Path).Validate(); err != nil {
		return wrap(err)
	}
	return nil
}

// Matches reports whether the action's conditions accept the entity.
func (a *ActionConfig) Matches(entity Entity) bool {
	if len(a.Conditions.Bundles) > 0 && !contains(a.Conditions.Bundles, entity.Bundle()) {
		return false
	}
	if len(a.Conditions.SourceMimetypes) > 0 {
		src, ok := entity.(HasSourceArtifact)
		if !ok {
			return false
		}
		file, ok := src.SourceArtifact()
		if !ok || !contains(a.Conditions.SourceMimetypes, file.MimeType) {
			return false
		}
	}
	return true
}

// validateMimetype returns the top-level type of a "type/subtype" value.
func validateMimetype(m string) (string, error) {
	parts := strings.Split(m, "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidMimetype, m)
	}
	return strings.ToLower(parts[0]), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
