// Package config reads the server and cascade YAML document.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"CascadeDetServer/geometry"
	iface "CascadeDetServer/interface"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks a missing or malformed configuration value.
var ErrConfig = errors.New("config")

const (
	DefaultMaxConcurrentRequests = 1
	DefaultRPCPort               = 50051
	DefaultHTTPPort              = 8080
	DefaultMonitorPort           = 50052
	DefaultBackendKind           = "remote"
	DefaultBackendTimeout        = 10
)

// Server is the full config.yaml document. The cascade fields sit at the top
// level next to the server settings.
type Server struct {
	RPCPort          int     `yaml:"RPCPort"`
	HTTPPort         int     `yaml:"HTTPPort"`
	MonitorPort      int     `yaml:"MonitorPort"`
	UseRegServer     bool    `yaml:"UseRegServer"`
	RegServerHost    string  `yaml:"RegServerHost"`
	RegServerPort    int     `yaml:"RegServerPort"`
	LogLevel         string  `yaml:"logLevel"`
	InferenceBackend Backend `yaml:"inferenceBackend"`
	Cascade          Cascade `yaml:",inline"`
}

// Backend selects the loader used for every model of the cascade.
type Backend struct {
	Kind           string `yaml:"kind"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type Cascade struct {
	MaxConcurrentRequests int                   `yaml:"maxConcurrentRequests"`
	MainModel             *iface.ModelPaths     `yaml:"mainModel"`
	SubModels             map[string][]SubModel `yaml:"subModels"`
}

type SubModel struct {
	iface.ModelPaths `yaml:",inline"`
	Name             string               `yaml:"name"`
	Weights          Weights              `yaml:"weights"`
	Conditions       []geometry.Condition `yaml:"conditions"`
}

// Weights decodes either a four element list or the "*" wildcard.
type Weights struct {
	geometry.Weights
	set bool
}

func NewWeights(w geometry.Weights) Weights {
	return Weights{Weights: w, set: true}
}

func (w *Weights) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value == geometry.WildcardToken {
			*w = NewWeights(geometry.Wildcard)
			return nil
		}
		return fmt.Errorf("%w: line %d: weights must be a list of 4 numbers or %q, got %q",
			ErrConfig, node.Line, geometry.WildcardToken, node.Value)
	}
	var q []float64
	if err := node.Decode(&q); err != nil {
		return fmt.Errorf("%w: line %d: weights: %v", ErrConfig, node.Line, err)
	}
	if len(q) != 4 {
		return fmt.Errorf("%w: line %d: weights need 4 values, got %d", ErrConfig, node.Line, len(q))
	}
	*w = NewWeights(geometry.Weights{X: q[0], Y: q[1], W: q[2], H: q[3]})
	return nil
}

func defaults() Server {
	return Server{
		RPCPort:     DefaultRPCPort,
		HTTPPort:    DefaultHTTPPort,
		MonitorPort: DefaultMonitorPort,
		LogLevel:    "production",
		InferenceBackend: Backend{
			Kind:           DefaultBackendKind,
			TimeoutSeconds: DefaultBackendTimeout,
		},
		Cascade: Cascade{MaxConcurrentRequests: DefaultMaxConcurrentRequests},
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Server, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if errors.Is(err, ErrConfig) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Server) Validate() error {
	var problems []string
	if s.InferenceBackend.Kind == "" {
		problems = append(problems, "inferenceBackend.kind is required")
	}
	if s.InferenceBackend.TimeoutSeconds <= 0 {
		problems = append(problems, "inferenceBackend.timeoutSeconds must be positive")
	}
	switch s.LogLevel {
	case "production", "development":
	default:
		problems = append(problems, fmt.Sprintf("logLevel %q must be production or development", s.LogLevel))
	}
	if s.UseRegServer && (s.RegServerHost == "" || s.RegServerPort <= 0) {
		problems = append(problems, "RegServerHost and RegServerPort are required when UseRegServer is set")
	}
	problems = append(problems, s.Cascade.problems()...)
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Validate checks the cascade document alone.
func (c *Cascade) Validate() error {
	if problems := c.problems(); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Cascade) problems() []string {
	var problems []string
	if c.MaxConcurrentRequests <= 0 {
		problems = append(problems, fmt.Sprintf("maxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests))
	}
	if c.MainModel == nil {
		problems = append(problems, "mainModel is required")
	} else {
		problems = append(problems, pathProblems("mainModel", *c.MainModel)...)
	}
	for _, label := range slices.Sorted(maps.Keys(c.SubModels)) {
		subs := c.SubModels[label]
		if label == "" {
			problems = append(problems, "subModels: empty label")
		}
		for i, sub := range subs {
			where := fmt.Sprintf("subModels.%s[%d]", label, i)
			problems = append(problems, pathProblems(where, sub.ModelPaths)...)
			if !sub.Weights.set {
				problems = append(problems, where+".weights is required")
			} else if err := sub.Weights.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("%s.weights: %v", where, err))
			}
			for _, cond := range sub.Conditions {
				if _, err := geometry.ParseCondition(string(cond)); err != nil {
					problems = append(problems, fmt.Sprintf("%s.conditions: %v", where, err))
				}
			}
		}
	}
	return problems
}

func pathProblems(where string, p iface.ModelPaths) []string {
	var problems []string
	if p.ModelPath == "" {
		problems = append(problems, where+".modelPath is required")
	}
	if p.ArchPath == "" {
		problems = append(problems, where+".archPath is required")
	}
	return problems
}
