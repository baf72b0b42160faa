package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"CascadeDetServer/config"
	"CascadeDetServer/geometry"
	iface "CascadeDetServer/interface"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	path   string
	closed bool
}

func (m *stubModel) Predict(context.Context, iface.Frame) ([]iface.Region, error) { return nil, nil }
func (m *stubModel) Close() error {
	m.closed = true
	return nil
}

type stubLoader struct {
	mu     sync.Mutex
	fail   string
	models []*stubModel
}

func (l *stubLoader) Load(_ context.Context, weightsPath, archPath string) (iface.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if weightsPath == l.fail {
		return nil, errors.New("malformed artifact")
	}
	m := &stubModel{path: weightsPath}
	l.models = append(l.models, m)
	return m, nil
}

func cascadeConfig() config.Cascade {
	sub := func(path string, w geometry.Weights, conds ...geometry.Condition) config.SubModel {
		return config.SubModel{
			ModelPaths: iface.ModelPaths{ModelPath: path, ArchPath: path + ".zip"},
			Weights:    config.NewWeights(w),
			Conditions: conds,
		}
	}
	return config.Cascade{
		MaxConcurrentRequests: 4,
		MainModel:             &iface.ModelPaths{ModelPath: "main.ml", ArchPath: "main.zip"},
		SubModels: map[string][]config.SubModel{
			"person": {
				sub("face.ml", geometry.Weights{W: 1, H: 0.4}, geometry.CenterX, geometry.SquareW),
				sub("gear.ml", geometry.Wildcard),
			},
			"car": {sub("plate.ml", geometry.Identity)},
		},
	}
}

func TestLoad(t *testing.T) {
	loader := &stubLoader{}
	reg, err := Load(context.Background(), cascadeConfig(), loader)
	require.NoError(t, err)

	assert.Len(t, loader.models, 4)
	assert.Equal(t, "main.ml", reg.Main().(*stubModel).path)
	assert.Equal(t, 4, reg.MaxConcurrentRequests())
	assert.Equal(t, []string{"car", "person"}, reg.Labels())

	person := reg.SubModels("person")
	require.Len(t, person, 2)
	assert.Equal(t, "person[0]", person[0].Name)
	assert.Equal(t, "face.ml", person[0].Model.(*stubModel).path)
	assert.Equal(t, []geometry.Condition{geometry.CenterX, geometry.SquareW}, person[0].Conditions)
	assert.True(t, person[1].Weights.All)
	assert.Empty(t, reg.SubModels("dog"))

	require.NoError(t, reg.Close())
	for _, m := range loader.models {
		assert.True(t, m.closed, m.path)
	}
}

func TestLoad_FailFast(t *testing.T) {
	loader := &stubLoader{fail: "gear.ml"}
	reg, err := Load(context.Background(), cascadeConfig(), loader)
	assert.Nil(t, reg)
	assert.ErrorIs(t, err, ErrLoad)
	assert.ErrorContains(t, err, "malformed artifact")
	for _, m := range loader.models {
		assert.True(t, m.closed, "partially loaded model %s left open", m.path)
	}

	_, err = Load(context.Background(), cascadeConfig(), &stubLoader{fail: "main.ml"})
	assert.ErrorIs(t, err, ErrLoad)
}

func TestLoad_InvalidConfig(t *testing.T) {
	cfg := cascadeConfig()
	cfg.MainModel = nil
	loader := &stubLoader{}
	_, err := Load(context.Background(), cfg, loader)
	assert.ErrorIs(t, err, config.ErrConfig)
	assert.Empty(t, loader.models)
}

func TestNew(t *testing.T) {
	m := &stubModel{}
	_, err := New(nil, 1, nil)
	assert.ErrorIs(t, err, config.ErrConfig)
	_, err = New(m, 0, nil)
	assert.ErrorIs(t, err, config.ErrConfig)
	_, err = New(m, 1, map[string][]SubModel{"a": {{Weights: geometry.Identity}}})
	assert.ErrorIs(t, err, config.ErrConfig)

	reg, err := New(m, 2, map[string][]SubModel{"a": {{Name: "first", Model: m, Weights: geometry.Identity}}, "b": {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, reg.Labels())
}

func TestDescribe(t *testing.T) {
	reg, err := Load(context.Background(), cascadeConfig(), &stubLoader{})
	require.NoError(t, err)

	want := Description{
		MaxConcurrentRequests: 4,
		MainModel:             iface.ModelPaths{ModelPath: "main.ml", ArchPath: "main.zip"},
		SubModels: map[string][]SubModelDetail{
			"person": {
				{Name: "person[0]", ModelPath: "face.ml", ArchPath: "face.ml.zip", Weights: "(0,0,1,0.4)", Conditions: []string{"center_x", "square_w"}},
				{Name: "person[1]", ModelPath: "gear.ml", ArchPath: "gear.ml.zip", Weights: "*", Conditions: []string{}},
			},
			"car": {
				{Name: "car[0]", ModelPath: "plate.ml", ArchPath: "plate.ml.zip", Weights: "(0,0,1,1)", Conditions: []string{}},
			},
		},
	}
	if diff := cmp.Diff(want, reg.Describe()); diff != "" {
		t.Errorf("Describe() mismatch (-want +got):\n%s", diff)
	}
}
