package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	onnxrt "github.com/yalue/onnxruntime_go"
)

// PaddleConfig holds settings for the ONNX recognition engine.
type PaddleConfig struct {
	ModelPath   string `mapstructure:"model_path" yaml:"model_path" json:"model_path"`       // PP-OCR style recognition model
	DictPath    string `mapstructure:"dict_path" yaml:"dict_path" json:"dict_path"`          // character dictionary, one entry per line
	ImageHeight int    `mapstructure:"image_height" yaml:"image_height" json:"image_height"` // model input height (0 = adopt from model)
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`    // intra-op threads (0 = runtime default)
}

// DefaultPaddleConfig returns defaults for the bundled mobile recognition model.
func DefaultPaddleConfig() PaddleConfig {
	return PaddleConfig{
		ImageHeight: 48,
	}
}

var ortInitOnce sync.Once

// Paddle runs a PaddleOCR-style CTC recognition model through ONNX Runtime.
// Text lines are segmented with a horizontal projection profile, then each
// strip is recognized independently.
type Paddle struct {
	cfg     PaddleConfig
	session *onnxrt.DynamicAdvancedSession
	charset *Charset
	mu      sync.Mutex
}

// NewPaddle creates the ONNX-backed engine.
func NewPaddle(cfg PaddleConfig) (*Paddle, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if cfg.DictPath == "" {
		return nil, errors.New("dictionary path cannot be empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	var initErr error
	ortInitOnce.Do(func() {
		if !onnxrt.IsInitialized() {
			initErr = onnxrt.InitializeEnvironment()
		}
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize ONNX Runtime: %w", initErr)
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("expected 1 input and 1 output, got %d/%d", len(inputs), len(outputs))
	}
	if len(inputs[0].Dimensions) != 4 {
		return nil, fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	if h := inputs[0].Dimensions[2]; h > 0 && cfg.ImageHeight <= 0 {
		cfg.ImageHeight = int(h)
	}
	if cfg.ImageHeight <= 0 {
		cfg.ImageHeight = 48
	}

	charset, err := LoadCharset(cfg.DictPath)
	if err != nil {
		return nil, err
	}

	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("set thread count: %w", err)
		}
	}

	session, err := onnxrt.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}

	return &Paddle{cfg: cfg, session: session, charset: charset}, nil
}

// Name implements Engine.
func (p *Paddle) Name() string { return "paddle" }

// Close implements Engine.
func (p *Paddle) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		if err := p.session.Destroy(); err != nil {
			return fmt.Errorf("destroy session: %w", err)
		}
		p.session = nil
	}
	return nil
}

// Recognize implements Engine.
func (p *Paddle) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	strips := SegmentLines(img, 3)
	res := &Result{Engine: p.Name()}
	for lineIdx, strip := range strips {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, conf, err := p.recognizeStrip(img, strip)
		if err != nil {
			return nil, fmt.Errorf("recognize line %d: %w", lineIdx, err)
		}
		res.Tokens = append(res.Tokens, splitLineTokens(text, conf, lineIdx, strip, img.Bounds())...)
	}
	return res, nil
}

// recognizeStrip runs one line strip through the model and CTC-decodes it.
func (p *Paddle) recognizeStrip(img image.Image, strip LineStrip) (string, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return "", 0, errors.New("engine closed")
	}

	crop := imaging.Crop(img, image.Rect(img.Bounds().Min.X, strip.Top, img.Bounds().Max.X, strip.Bottom))
	h := p.cfg.ImageHeight
	w := crop.Bounds().Dx() * h / max(crop.Bounds().Dy(), 1)
	if w < 8 {
		w = 8
	}
	scaled := imaging.Resize(crop, w, h, imaging.Linear)

	data := make([]float32, 3*h*w)
	for y := range h {
		for x := range w {
			r, g, b, _ := scaled.At(x, y).RGBA()
			// PP-OCR normalization: (v/255 - 0.5) / 0.5
			data[0*h*w+y*w+x] = (float32(r>>8)/255.0 - 0.5) / 0.5
			data[1*h*w+y*w+x] = (float32(g>>8)/255.0 - 0.5) / 0.5
			data[2*h*w+y*w+x] = (float32(b>>8)/255.0 - 0.5) / 0.5
		}
	}

	inputTensor, err := onnxrt.NewTensor(onnxrt.NewShape(1, 3, int64(h), int64(w)), data)
	if err != nil {
		return "", 0, fmt.Errorf("create input tensor: %w", err)
	}
	defer func() { _ = inputTensor.Destroy() }()

	outputs := []onnxrt.Value{nil}
	if err := p.session.Run([]onnxrt.Value{inputTensor}, outputs); err != nil {
		return "", 0, fmt.Errorf("run session: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return "", 0, errors.New("unexpected output tensor type")
	}
	shape := out.GetShape()
	if len(shape) != 3 {
		return "", 0, fmt.Errorf("unexpected output rank %d", len(shape))
	}
	steps, classes := int(shape[1]), int(shape[2])
	return p.ctcGreedyDecode(out.GetData(), steps, classes)
}

// ctcGreedyDecode collapses repeated argmax indices and drops blanks,
// returning the decoded text and mean per-character probability.
func (p *Paddle) ctcGreedyDecode(logits []float32, steps, classes int) (string, float64, error) {
	if steps*classes > len(logits) {
		return "", 0, errors.New("output tensor shorter than declared shape")
	}
	var sb strings.Builder
	var probSum float64
	var probCount int
	prev := -1
	for t := range steps {
		row := logits[t*classes : (t+1)*classes]
		idx, val := argmaxF32(row)
		if idx != prev && idx != 0 {
			sb.WriteString(p.charset.Char(idx))
			probSum += softmaxProb(row, val)
			probCount++
		}
		prev = idx
	}
	if probCount == 0 {
		return "", 0, nil
	}
	return sb.String(), probSum / float64(probCount), nil
}

func argmaxF32(v []float32) (int, float32) {
	idx, best := 0, v[0]
	for i, x := range v[1:] {
		if x > best {
			best = x
			idx = i + 1
		}
	}
	return idx, best
}

// softmaxProb converts the winning logit to a probability via a stable
// softmax; probability-like outputs pass through unchanged.
func softmaxProb(row []float32, winner float32) float64 {
	var sum float64
	lo, hi := row[0], row[0]
	for _, x := range row {
		sum += float64(x)
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if sum > 0.99 && sum < 1.01 && lo >= 0 && hi <= 1 {
		return float64(winner)
	}
	var denom float64
	for _, x := range row {
		denom += math.Exp(float64(x - hi))
	}
	if denom == 0 {
		return 0
	}
	return math.Exp(float64(winner-hi)) / denom
}

// splitLineTokens splits decoded line text on whitespace and assigns each
// token proportional geometry within the strip. PP-OCR models emit no word
// boxes, so positions are estimates good enough for column heuristics.
func splitLineTokens(text string, conf float64, line int, strip LineStrip, bounds image.Rectangle) []Token {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	total := 0
	for _, f := range fields {
		total += len(f)
	}
	width := bounds.Dx()
	tokens := make([]Token, 0, len(fields))
	pos := 0
	for _, f := range fields {
		left := bounds.Min.X + pos*width/max(total+len(fields)-1, 1)
		w := len(f) * width / max(total+len(fields)-1, 1)
		tokens = append(tokens, Token{
			Text:       f,
			Confidence: conf,
			Line:       line,
			Left:       left,
			Top:        strip.Top,
			Width:      w,
			Height:     strip.Bottom - strip.Top,
		})
		pos += len(f) + 1
	}
	return tokens
}
