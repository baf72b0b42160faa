// Package registry holds the models of a cascade, loaded once at startup.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"CascadeDetServer/config"
	"CascadeDetServer/geometry"
	iface "CascadeDetServer/interface"
	"CascadeDetServer/logger"

	"go.uber.org/zap"
)

// ErrLoad marks a model that the loader could not provide.
var ErrLoad = errors.New("model load failed")

// SubModel is a model run on crops of regions with a given label.
type SubModel struct {
	Name       string
	Model      iface.Model
	Weights    geometry.Weights
	Conditions []geometry.Condition
	Paths      iface.ModelPaths
}

// Registry is immutable once built and safe for concurrent use.
type Registry struct {
	main          iface.Model
	mainPaths     iface.ModelPaths
	subModels     map[string][]SubModel
	maxConcurrent int
}

// New builds a registry from already loaded models.
func New(main iface.Model, maxConcurrent int, subModels map[string][]SubModel) (*Registry, error) {
	if main == nil {
		return nil, fmt.Errorf("%w: main model is nil", config.ErrConfig)
	}
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("%w: maxConcurrentRequests must be positive, got %d", config.ErrConfig, maxConcurrent)
	}
	subs := make(map[string][]SubModel, len(subModels))
	for label, list := range subModels {
		if len(list) == 0 {
			continue
		}
		cp := make([]SubModel, len(list))
		for i, s := range list {
			if s.Model == nil {
				return nil, fmt.Errorf("%w: %s[%d] has no model", config.ErrConfig, label, i)
			}
			if err := s.Weights.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %s[%d]: %v", config.ErrConfig, label, i, err)
			}
			if s.Name == "" {
				s.Name = fmt.Sprintf("%s[%d]", label, i)
			}
			s.Conditions = slices.Clone(s.Conditions)
			cp[i] = s
		}
		subs[label] = cp
	}
	return &Registry{main: main, subModels: subs, maxConcurrent: maxConcurrent}, nil
}

// Load resolves every model of cfg through loader. Any failure aborts the
// whole registry; models loaded before the failure are closed.
func Load(ctx context.Context, cfg config.Cascade, loader iface.Loader) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Log()
	var loaded []iface.Model
	fail := func(err error) (*Registry, error) {
		closeAll(loaded)
		return nil, err
	}

	log.Info("Loading main model", zap.String("modelPath", cfg.MainModel.ModelPath))
	main, err := loader.Load(ctx, cfg.MainModel.ModelPath, cfg.MainModel.ArchPath)
	if err != nil {
		return fail(fmt.Errorf("%w: main model %s: %w", ErrLoad, cfg.MainModel.ModelPath, err))
	}
	loaded = append(loaded, main)

	subs := make(map[string][]SubModel, len(cfg.SubModels))
	for _, label := range slices.Sorted(maps.Keys(cfg.SubModels)) {
		log.Info("Loading models for label", zap.String("label", label))
		for i, sc := range cfg.SubModels[label] {
			log.Info("Loading sub-model", zap.String("label", label), zap.String("modelPath", sc.ModelPath))
			m, err := loader.Load(ctx, sc.ModelPath, sc.ArchPath)
			if err != nil {
				return fail(fmt.Errorf("%w: %s[%d] %s: %w", ErrLoad, label, i, sc.ModelPath, err))
			}
			loaded = append(loaded, m)
			subs[label] = append(subs[label], SubModel{
				Name:       sc.Name,
				Model:      m,
				Weights:    sc.Weights.Weights,
				Conditions: sc.Conditions,
				Paths:      sc.ModelPaths,
			})
		}
	}

	reg, err := New(main, cfg.MaxConcurrentRequests, subs)
	if err != nil {
		return fail(err)
	}
	reg.mainPaths = *cfg.MainModel
	return reg, nil
}

func (r *Registry) Main() iface.Model { return r.main }

func (r *Registry) MaxConcurrentRequests() int { return r.maxConcurrent }

// SubModels returns the models registered for label in configuration order.
// The slice is shared and must not be modified.
func (r *Registry) SubModels(label string) []SubModel {
	return r.subModels[label]
}

// Labels returns the registered labels, sorted.
func (r *Registry) Labels() []string {
	return slices.Sorted(maps.Keys(r.subModels))
}

// Close releases every model that holds resources.
func (r *Registry) Close() error {
	models := []iface.Model{r.main}
	for _, label := range r.Labels() {
		for _, s := range r.subModels[label] {
			models = append(models, s.Model)
		}
	}
	return closeAll(models)
}

func closeAll(models []iface.Model) error {
	var errs []error
	for _, m := range models {
		if c, ok := m.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
