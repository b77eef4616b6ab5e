package cmd

import (
	"encoding/json"
	"errors"

	"protoguard/internal/config"
	"protoguard/internal/protocol"
)

// verdict is the JSON shape all hosting surfaces answer with. The protocol
// semantics live entirely in the validated output / error it wraps.
type verdict struct {
	VerdictID string               `json:"verdict_id,omitempty"`
	OK        bool                 `json:"ok"`
	Form      string               `json:"form,omitempty"`
	Output    json.RawMessage      `json:"output,omitempty"`
	Error     *verdictError        `json:"error,omitempty"`
	Injection *protocol.ScanReport `json:"injection,omitempty"`
}

type verdictError struct {
	Kind    string `json:"kind"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func makeVerdict(out *protocol.Output, err error) verdict {
	if err != nil {
		var perr *protocol.Error
		if errors.As(err, &perr) {
			return verdict{Error: &verdictError{
				Kind:    string(perr.Kind),
				Path:    perr.Path,
				Message: perr.Message,
			}}
		}
		return verdict{Error: &verdictError{Kind: "internal", Message: err.Error()}}
	}
	return verdict{
		OK:        true,
		Form:      string(out.Form()),
		Output:    mustMarshalJSON(out),
		Injection: out.Scan(),
	}
}

func newValidatorFromConfig(cfg *config.Config) *protocol.Validator {
	return protocol.New(protocol.Options{
		AllowUnknownFields: cfg.Validator.AllowUnknownFields,
		AllowedRoles:       cfg.Validator.AllowedRoles,
		DefaultRole:        cfg.Validator.DefaultRole,
		Scanner:            protocol.NewHeuristicScanner(cfg.Validator.InjectionPatterns...),
	})
}

func loadConfig(file string) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: firstNonEmpty(file, GetConfigFileFlag()),
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
