package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	DefaultImageModel = "doubao-seedream-4-5-251128"
	DefaultImageSize  = "2048x2048"
)

type ImageConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Size    string
}

// ImageClient 同步生图，直接返回图片字节
type ImageClient struct {
	cfg   ImageConfig
	http  *http.Client
	retry RetryPolicy
	sleep Sleeper
}

func NewImageClient(cfg ImageConfig, opts ...Option) *ImageClient {
	o := buildOptions(opts)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultArkBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultImageModel
	}
	if cfg.Size == "" {
		cfg.Size = DefaultImageSize
	}
	return &ImageClient{
		cfg:   cfg,
		http:  o.httpClient,
		retry: o.policy(imageRetry),
		sleep: o.sleeper,
	}
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate renders the scene description with the style suffix appended.
func (c *ImageClient) Generate(ctx context.Context, description, style string) ([]byte, error) {
	const op = "generate image"
	if c.cfg.APIKey == "" {
		return nil, missingKey(op, "image api key")
	}
	req := imageRequest{
		Model:          c.cfg.Model,
		Prompt:         imagePrompt(description, style),
		Size:           c.cfg.Size,
		ResponseFormat: "b64_json",
	}

	var image []byte
	err := c.retry.run(ctx, op, c.sleep, func(ctx context.Context) error {
		var resp imageResponse
		if err := doJSON(ctx, c.http, http.MethodPost, c.cfg.BaseURL+"/images/generations", c.cfg.APIKey, req, &resp); err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return permanent(errors.New("image response has no data"))
		}
		item := resp.Data[0]
		switch {
		case item.B64JSON != "":
			data, err := base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return permanent(fmt.Errorf("decode image: %w", err))
			}
			image = data
		case item.URL != "":
			data, _, err := fetch(ctx, c.http, item.URL)
			if err != nil {
				return err
			}
			image = data
		default:
			return permanent(errors.New("image response has neither b64_json nor url"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}
