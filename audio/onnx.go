package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrModelUnavailable indicates the spectral model cannot be loaded.
var ErrModelUnavailable = errors.New("spectral model unavailable")

// ModelConfig locates the ONNX mask model and the onnxruntime shared library.
//
// The model takes a magnitude spectrum shaped [1, 1, 513] and returns a mask
// of the same shape with values in [0, 1].
type ModelConfig struct {
	ModelPath   string `mapstructure:"model_path" yaml:"model_path"`
	RuntimePath string `mapstructure:"runtime_path" yaml:"runtime_path"`
	InputName   string `mapstructure:"input_name" yaml:"input_name"`
	OutputName  string `mapstructure:"output_name" yaml:"output_name"`
}

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime initializes the process-wide onnxruntime environment once.
func initRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if ort.IsInitialized() {
			return
		}
		ortErr = ort.InitializeEnvironment()
		if ortErr != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "initRuntime",
				"library_path": libraryPath,
				"error":        ortErr.Error(),
			}).Error("Failed to initialize onnxruntime")
		}
	})
	return ortErr
}

// modelDenoiser runs one ONNX session per channel. The session is bound to
// preallocated input and output tensors that are reused every frame.
type modelDenoiser struct {
	stft    *stft
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewModelDenoiserFactory returns a factory creating spectral-model denoisers
// from cfg.
func NewModelDenoiserFactory(cfg ModelConfig) DenoiserFactory {
	return func() (Denoiser, error) {
		return newModelDenoiser(cfg)
	}
}

func newModelDenoiser(cfg ModelConfig) (*modelDenoiser, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrModelUnavailable)
	}
	if err := initRuntime(cfg.RuntimePath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	inputName, outputName := cfg.InputName, cfg.OutputName
	if inputName == "" {
		inputName = "input"
	}
	if outputName == "" {
		outputName = "output"
	}

	shape := ort.NewShape(1, 1, spectrumBins)
	input, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return nil, fmt.Errorf("%w: input tensor: %w", ErrModelUnavailable, err)
	}
	output, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("%w: output tensor: %w", ErrModelUnavailable, err)
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{inputName}, []string{outputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "newModelDenoiser",
		"model_path": cfg.ModelPath,
	}).Debug("Spectral model session created")

	return &modelDenoiser{
		stft:    newSTFT(FrameSize),
		session: session,
		input:   input,
		output:  output,
	}, nil
}

func (m *modelDenoiser) Process(frame []float32) (float32, error) {
	if m.session == nil {
		return 0, ErrDenoiserClosed
	}
	if len(frame) != FrameSize {
		return 0, ErrFrameLength
	}
	return 0, m.stft.process(frame, m.shape)
}

func (m *modelDenoiser) shape(magnitude, gains []float64) error {
	in := m.input.GetData()
	for k, v := range magnitude {
		in[k] = float32(v)
	}
	if err := m.session.Run(); err != nil {
		return fmt.Errorf("model run: %w", err)
	}
	for k, v := range m.output.GetData() {
		switch {
		case v < 0:
			gains[k] = 0
		case v > 1:
			gains[k] = 1
		default:
			gains[k] = float64(v)
		}
	}
	return nil
}

func (m *modelDenoiser) Destroy() error {
	if m.session == nil {
		return nil
	}
	err := errors.Join(m.session.Destroy(), m.input.Destroy(), m.output.Destroy())
	m.session = nil
	return err
}
