package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"
)

// KServeEngine sends tensors to a model server speaking the KServe v2 REST
// protocol (OpenVINO Model Server, Triton).
type KServeEngine struct {
	staging

	baseURL   string
	modelName string
	inputName string
	client    *http.Client
	logger    *logger.Logger
}

type inferTensor struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type inferRequest struct {
	Inputs []inferTensor `json:"inputs"`
}

type inferResponse struct {
	ModelName string        `json:"model_name"`
	Outputs   []inferTensor `json:"outputs"`
}

type modelReady struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// NewKServeEngine checks that modelName is ready on the server at baseURL.
func NewKServeEngine(ctx context.Context, baseURL, modelName, inputName string, log *logger.Logger) (*KServeEngine, error) {
	e := &KServeEngine{
		baseURL:   strings.TrimRight(baseURL, "/"),
		modelName: modelName,
		inputName: inputName,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    log,
	}
	if err := e.checkReady(ctx); err != nil {
		return nil, err
	}
	log.Info("Model %s is ready on %s", modelName, e.baseURL)
	return e, nil
}

func (e *KServeEngine) modelURL() string {
	return fmt.Sprintf("%s/v2/models/%s", e.baseURL, e.modelName)
}

func (e *KServeEngine) checkReady(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.modelURL()+"/ready", nil)
	if err != nil {
		return fmt.Errorf("failed to build readiness request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("model server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model %s not ready (status %d): %w", e.modelName, resp.StatusCode, ErrModelNotLoaded)
	}
	// Some servers answer with an empty body, status alone is enough then.
	var ready modelReady
	if err := json.NewDecoder(resp.Body).Decode(&ready); err == nil && ready.Name != "" && !ready.Ready {
		return fmt.Errorf("model %s reports not ready: %w", e.modelName, ErrModelNotLoaded)
	}
	return nil
}

func (e *KServeEngine) Submit(batch int, t model.Tensor) error {
	return e.submit(batch, t)
}

// Dispatch posts the submitted tensor. The request is bound to ctx.
func (e *KServeEngine) Dispatch(ctx context.Context) (Pending, error) {
	t, err := e.take()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(inferRequest{Inputs: []inferTensor{{
		Name:     e.inputName,
		Shape:    t.Shape[:],
		Datatype: "FP32",
		Data:     t.Data,
	}}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode infer request: %w", err)
	}

	return goPending(func() (*Result, error) {
		return e.infer(ctx, body)
	}), nil
}

func (e *KServeEngine) infer(ctx context.Context, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.modelURL()+"/infer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build infer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("infer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("infer request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode infer response: %w", err)
	}
	if len(out.Outputs) == 0 {
		return nil, fmt.Errorf("infer response has no outputs")
	}
	if dt := out.Outputs[0].Datatype; dt != "" && dt != "FP32" {
		return nil, fmt.Errorf("unsupported output datatype %s", dt)
	}
	return NewResult(out.Outputs[0].Data, nil), nil
}

func (e *KServeEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
