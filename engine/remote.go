package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	iface "CascadeDetServer/interface"

	"github.com/go-resty/resty/v2"
)

// RemoteLoader loads models on an inference host over HTTP. The host keeps
// the weights resident and hands back an id used for every later call.
type RemoteLoader struct {
	client *resty.Client
}

// NewRemoteLoader talks to the inference host at baseURL.
func NewRemoteLoader(baseURL string, timeout time.Duration) *RemoteLoader {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &RemoteLoader{client: client}
}

type loadRequest struct {
	ModelPath string `json:"modelPath"`
	ArchPath  string `json:"archPath"`
}

type loadResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

type predictResponse struct {
	Success bool           `json:"success"`
	Results []iface.Region `json:"results"`
	Message string         `json:"message"`
}

// Load asks the host to load the model and returns a handle to it.
func (l *RemoteLoader) Load(ctx context.Context, weightsPath, archPath string) (iface.Model, error) {
	var out loadResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(loadRequest{ModelPath: weightsPath, ArchPath: archPath}).
		SetResult(&out).
		SetError(&out).
		Post("/api/models/load")
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", weightsPath, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("load %s: server returned %s: %s", weightsPath, resp.Status(), out.Message)
	}
	if !out.Success || out.ID == "" {
		return nil, fmt.Errorf("load %s: rejected: %s", weightsPath, out.Message)
	}
	return &RemoteModel{
		client:    l.client,
		ID:        out.ID,
		ModelPath: weightsPath,
	}, nil
}

// RemoteModel is a model resident on an inference host.
type RemoteModel struct {
	client    *resty.Client
	ID        string
	ModelPath string
}

// Predict sends the encoded frame to the host and returns its regions.
func (m *RemoteModel) Predict(ctx context.Context, frame iface.Frame) ([]iface.Region, error) {
	data, err := frame.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	var out predictResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetPathParam("id", m.ID).
		SetBody(data).
		SetResult(&out).
		SetError(&out).
		Post("/api/models/{id}/predict")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("model %s: server returned %s: %s", m.ID, resp.Status(), out.Message)
	}
	if !out.Success {
		return nil, errors.New(out.Message)
	}
	return out.Results, nil
}

// Close unloads the model from the host.
func (m *RemoteModel) Close() error {
	resp, err := m.client.R().
		SetPathParam("id", m.ID).
		Delete("/api/models/{id}")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("unload %s: server returned %s", m.ID, resp.Status())
	}
	return nil
}

func (m *RemoteModel) String() string {
	return fmt.Sprintf("remote(%s %s)", m.ID, m.ModelPath)
}
