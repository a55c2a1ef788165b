package inference

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"

	"gocv.io/x/gocv"
)

// DNNEngine runs the model in-process with the OpenCV DNN module. Forward
// passes run on a worker goroutine, one at a time.
type DNNEngine struct {
	staging
	slot slot

	net    gocv.Net
	netMu  sync.Mutex
	closed bool
	logger *logger.Logger
}

// NewDNNEngine loads the network from modelPath (and configPath when the
// format needs one).
func NewDNNEngine(modelPath, configPath string, log *logger.Logger) (*DNNEngine, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s: %w", modelPath, ErrModelNotLoaded)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("model config file not found: %s: %w", configPath, ErrModelNotLoaded)
		}
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network %s: %w", modelPath, ErrModelNotLoaded)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	log.Info("Classification network loaded from %s", modelPath)
	return &DNNEngine{net: net, slot: newSlot(), logger: log}, nil
}

func (e *DNNEngine) Submit(batch int, t model.Tensor) error {
	return e.submit(batch, t)
}

// Dispatch starts a forward pass over the submitted tensor. It fails with
// ErrBusy while a forward pass whose caller gave up is still running.
func (e *DNNEngine) Dispatch(ctx context.Context) (Pending, error) {
	t, err := e.take()
	if err != nil {
		return nil, err
	}
	release, err := e.slot.acquire()
	if err != nil {
		return nil, err
	}

	sizes := []int{t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]}
	blob, err := gocv.NewMatWithSizesFromBytes(sizes, gocv.MatTypeCV32F, float32Bytes(t.Data))
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to build input blob: %w", err)
	}

	return goPendingSlot(release, func() (*Result, error) {
		defer blob.Close()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return e.forward(blob)
	}), nil
}

func (e *DNNEngine) forward(blob gocv.Mat) (*Result, error) {
	e.netMu.Lock()
	defer e.netMu.Unlock()

	if e.closed {
		return nil, ErrModelNotLoaded
	}

	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	if output.Empty() {
		return nil, fmt.Errorf("forward pass returned no output")
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	classes := make([]float32, len(data))
	copy(classes, data)
	return NewResult(classes, nil), nil
}

// Close releases the network. It waits for a running forward pass.
func (e *DNNEngine) Close() error {
	e.netMu.Lock()
	defer e.netMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.net.Close()
}

func float32Bytes(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}
