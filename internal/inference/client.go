package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/timmy/dmi/internal/logger"
	"github.com/timmy/dmi/internal/metrics"
)

// ClientConfig holds configuration for the model server client.
type ClientConfig struct {
	BaseURL          string
	Timeout          time.Duration
	BreakerName      string
	FailureThreshold uint32        // consecutive failures before the breaker opens
	HalfOpenRequests uint32        // probes allowed while half-open
	Interval         time.Duration // closed-state counter reset period
	OpenTimeout      time.Duration // time spent open before probing
}

// ModelServerClient talks to the inference server over HTTP/JSON.
// Every call goes through a circuit breaker so a dead server fails fast.
type ModelServerClient struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker[*resty.Response]
}

// NewModelServerClient creates a new client.
// Parameters:
//   - cfg: server URL, timeout and breaker settings.
//
// Returns:
//   - *ModelServerClient: initialized client.
func NewModelServerClient(cfg *ClientConfig) *ModelServerClient {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	name := cfg.BreakerName
	if name == "" {
		name = "model-server"
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, int(to))
			logger.With(logger.Fields{
				logger.FieldComponent: "model-server",
				"from":                from.String(),
				"to":                  to.String(),
			}).Warn(context.Background(), "Circuit breaker %s changed state", name)
		},
	}

	return &ModelServerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[*resty.Response](settings),
	}
}

// BreakerState returns the breaker state name for health reporting.
func (c *ModelServerClient) BreakerState() string {
	return c.breaker.State().String()
}

// call executes one request through the breaker. Transport errors and 5xx
// responses count as breaker failures; 4xx responses are returned as errors
// without tripping it.
func (c *ModelServerClient) call(ctx context.Context, model, operation string, send func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		resp, err := send(c.client.R().SetContext(ctx).SetPathParam("model", model))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, fmt.Errorf("model server returned status %d: %s", resp.StatusCode(), resp.String())
		}
		return resp, nil
	})
	if err == nil && resp.IsError() {
		err = fmt.Errorf("model server returned status %d: %s", resp.StatusCode(), resp.String())
	}
	metrics.RecordInference(model, operation, err)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", operation, model, err)
	}
	return resp, nil
}

// FetchInfo retrieves a model description.
func (c *ModelServerClient) FetchInfo(ctx context.Context, model string) (ModelInfo, error) {
	var info ModelInfo
	_, err := c.call(ctx, model, "info", func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&info).Get("/v1/models/{model}")
	})
	if err != nil {
		return ModelInfo{}, err
	}
	if info.Name == "" {
		info.Name = model
	}
	return info, nil
}

// Health checks that the server answers.
func (c *ModelServerClient) Health(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("model server health: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("model server health: status %d", resp.StatusCode())
	}
	return nil
}

// Model returns a remote classifier after fetching its description.
func (c *ModelServerClient) Model(ctx context.Context, name string) (*RemoteModel, error) {
	info, err := c.FetchInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	return &RemoteModel{client: c, name: name, info: info}, nil
}

// Detector returns a remote object detector.
func (c *ModelServerClient) Detector(name string) *RemoteDetector {
	return &RemoteDetector{client: c, name: name}
}

type predictRequest struct {
	Input *Tensor `json:"input"`
}

type predictResponse struct {
	Logits []float32 `json:"logits"`
}

type traceRequest struct {
	Input       *Tensor `json:"input"`
	Layer       string  `json:"layer"`
	TargetClass int     `json:"target_class"`
}

// RemoteModel is a classifier hosted by the model server.
type RemoteModel struct {
	client *ModelServerClient
	name   string
	info   ModelInfo
}

// Info returns the cached model description.
func (m *RemoteModel) Info() ModelInfo { return m.info }

// Predict returns the raw logits for input.
func (m *RemoteModel) Predict(ctx context.Context, input *Tensor) ([]float32, error) {
	var out predictResponse
	_, err := m.client.call(ctx, m.name, "predict", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(predictRequest{Input: input}).SetResult(&out).Post("/v1/models/{model}:predict")
	})
	if err != nil {
		return nil, err
	}
	return out.Logits, nil
}

// Trace returns activations and gradients of layer for targetClass.
func (m *RemoteModel) Trace(ctx context.Context, input *Tensor, layer string, targetClass int) (*LayerTrace, error) {
	var out LayerTrace
	_, err := m.client.call(ctx, m.name, "trace", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(traceRequest{Input: input, Layer: layer, TargetClass: targetClass}).
			SetResult(&out).
			Post("/v1/models/{model}:trace")
	})
	if err != nil {
		return nil, err
	}
	if out.Activations == nil || out.Gradients == nil {
		return nil, fmt.Errorf("trace %s: response is missing activations or gradients", m.name)
	}
	return &out, nil
}

type detectRequest struct {
	Image string `json:"image"`
}

type detectResponse struct {
	Boxes   [][4]float64 `json:"boxes"`
	Scores  []float64    `json:"scores"`
	Classes []int        `json:"classes"`
}

// RemoteDetector is an object detector hosted by the model server.
type RemoteDetector struct {
	client *ModelServerClient
	name   string
}

// Detect sends the image as JPEG and returns every raw detection.
func (d *RemoteDetector) Detect(ctx context.Context, img image.Image) ([]DetectedObject, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("encode frame for detection: %w", err)
	}

	var out detectResponse
	_, err := d.client.call(ctx, d.name, "detect", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(detectRequest{Image: base64.StdEncoding.EncodeToString(buf.Bytes())}).
			SetResult(&out).
			Post("/v1/models/{model}:detect")
	})
	if err != nil {
		return nil, err
	}
	if len(out.Boxes) != len(out.Scores) || len(out.Boxes) != len(out.Classes) {
		return nil, fmt.Errorf("detect %s: mismatched lengths boxes=%d scores=%d classes=%d",
			d.name, len(out.Boxes), len(out.Scores), len(out.Classes))
	}

	objects := make([]DetectedObject, len(out.Boxes))
	for i := range out.Boxes {
		objects[i] = DetectedObject{Box: out.Boxes[i], Score: out.Scores[i], Class: out.Classes[i]}
	}
	return objects, nil
}
