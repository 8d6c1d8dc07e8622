package participant

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/absmach/flcoord/pkg/fl"
	"github.com/absmach/flcoord/pkg/registry"
	"github.com/fxamacker/cbor/v2"
)

const maxResponseSize = 512 << 20

var _ fl.LocalTrainer = (*Client)(nil)

// Client drives a remote participant over HTTP.
type Client struct {
	endpoint string
	client   *http.Client
}

func NewClient(endpoint string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}

	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   client,
	}
}

// NewTrainerFactory resolves registered participants to HTTP clients that
// share one connection pool.
func NewTrainerFactory(client *http.Client) func(registry.Participant) (fl.LocalTrainer, error) {
	return func(p registry.Participant) (fl.LocalTrainer, error) {
		if p.Endpoint == "" {
			return nil, fmt.Errorf("participant %s has no endpoint", p.ID)
		}

		return NewClient(p.Endpoint, client), nil
	}
}

func (c *Client) Fit(ctx context.Context, params fl.ParameterSet, cfg fl.FitConfig) (fl.FitResult, error) {
	data, err := fl.EncodeParameters(params)
	if err != nil {
		return fl.FitResult{}, err
	}

	var res FitResponse
	if err := c.do(ctx, "/fit", FitRequest{
		Round:        cfg.Round,
		Parameters:   data,
		LocalEpochs:  cfg.LocalEpochs,
		LearningRate: cfg.LearningRate,
		BatchSize:    cfg.BatchSize,
	}, &res); err != nil {
		return fl.FitResult{}, err
	}

	updated, err := fl.DecodeParameters(res.Parameters)
	if err != nil {
		return fl.FitResult{}, err
	}

	return fl.FitResult{
		Round:       res.Round,
		Parameters:  updated,
		SampleCount: res.SampleCount,
		Metrics:     res.Metrics,
	}, nil
}

func (c *Client) Evaluate(ctx context.Context, params fl.ParameterSet, cfg fl.EvalConfig) (fl.EvalResult, error) {
	data, err := fl.EncodeParameters(params)
	if err != nil {
		return fl.EvalResult{}, err
	}

	var res EvalResponse
	if err := c.do(ctx, "/evaluate", EvalRequest{Round: cfg.Round, Parameters: data}, &res); err != nil {
		return fl.EvalResult{}, err
	}

	return fl.EvalResult{
		Round:       res.Round,
		SampleCount: res.SampleCount,
		Metrics:     res.Metrics,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return nil
}

func (c *Client) do(ctx context.Context, path string, in, out any) error {
	body, err := cbor.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if err := cbor.Unmarshal(data, &e); err == nil && e.Reason != "" {
			return fl.TrainingFailure(e.Reason)
		}

		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if err := cbor.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", fl.ErrDecode, err)
	}

	return nil
}
