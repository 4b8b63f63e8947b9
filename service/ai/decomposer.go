package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"storyscene-server/models"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultChatBaseURL = "https://open.bigmodel.cn/api/paas/v4"
	DefaultChatModel   = "glm-4-flash"
)

const decomposeSystemPrompt = `你是一名视频分镜编剧，负责把用户提供的故事切分成若干个连续的视频分镜。

规则：
1. 每个分镜对应一个可以单独成画的镜头
2. 描述需写清地点、人物、动作和情绪，便于直接用于生图
3. 分镜数量按故事篇幅决定，一般 5 到 10 个
4. 描述使用中文，每条 50 到 100 字

只输出如下 JSON，不要输出其它任何内容：
{"scenes": [{"order_index": 1, "description": "..."}, {"order_index": 2, "description": "..."}]}`

// ChatGenerator is the slice of an eino chat model the decomposer needs.
type ChatGenerator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type DecomposerConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Decomposer 调用对话模型把故事拆成有序分镜
type Decomposer struct {
	chat  ChatGenerator
	retry RetryPolicy
	sleep Sleeper
}

// NewDecomposer builds an OpenAI-compatible eino chat model (GLM by default).
// Without an API key the decomposer is created but every call fails with KindServiceUnavailable.
func NewDecomposer(ctx context.Context, cfg DecomposerConfig, opts ...Option) (*Decomposer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewDecomposerWithModel(nil, opts...), nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultChatBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	o := buildOptions(opts)
	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
		Timeout:     o.policy(decomposeRetry).AttemptTimeout + 5*time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return NewDecomposerWithModel(chat, opts...), nil
}

func NewDecomposerWithModel(chat ChatGenerator, opts ...Option) *Decomposer {
	o := buildOptions(opts)
	return &Decomposer{
		chat:  chat,
		retry: o.policy(decomposeRetry),
		sleep: o.sleeper,
	}
}

// Decompose splits story into ordered scenes.
func (d *Decomposer) Decompose(ctx context.Context, story, style string) ([]models.SceneDraft, error) {
	user := fmt.Sprintf("故事：\n%s\n\n画面风格：%s\n\n请输出分镜。", strings.TrimSpace(story), style)
	return d.complete(ctx, "decompose story", user)
}

// Regenerate 同 Decompose，附带审阅意见
func (d *Decomposer) Regenerate(ctx context.Context, story, style, feedback string) ([]models.SceneDraft, error) {
	user := fmt.Sprintf("故事：\n%s\n\n画面风格：%s", strings.TrimSpace(story), style)
	if feedback = strings.TrimSpace(feedback); feedback != "" {
		user += fmt.Sprintf("\n\n审阅意见：%s\n请按意见重新拆分分镜。", feedback)
	}
	return d.complete(ctx, "regenerate scenes", user)
}

func (d *Decomposer) complete(ctx context.Context, op, user string) ([]models.SceneDraft, error) {
	if d.chat == nil {
		return nil, missingKey(op, "chat model api key")
	}
	messages := []*schema.Message{
		schema.SystemMessage(decomposeSystemPrompt),
		schema.UserMessage(user),
	}

	var content string
	err := d.retry.run(ctx, op, d.sleep, func(ctx context.Context) error {
		msg, err := d.chat.Generate(ctx, messages)
		if err != nil {
			return err
		}
		if msg == nil {
			return errors.New("empty reply")
		}
		content = msg.Content
		return nil
	})
	if err != nil {
		return nil, err
	}

	drafts, err := parseScenes(content)
	if err != nil {
		return nil, models.WrapError(models.KindUpstream, op, err)
	}
	return drafts, nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

type sceneReply struct {
	Scenes []struct {
		OrderIndex  *int   `json:"order_index"`
		Description string `json:"description"`
	} `json:"scenes"`
}

// parseScenes extracts the outermost JSON object of the reply. A missing index defaults
// to the 1-based position.
func parseScenes(content string) ([]models.SceneDraft, error) {
	raw := jsonObjectPattern.FindString(content)
	if raw == "" {
		return nil, errors.New("no json object in model reply")
	}
	var reply sceneReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	if len(reply.Scenes) == 0 {
		return nil, errors.New("model reply has no scenes")
	}

	drafts := make([]models.SceneDraft, 0, len(reply.Scenes))
	seen := make(map[int]bool, len(reply.Scenes))
	for i, s := range reply.Scenes {
		idx := i + 1
		if s.OrderIndex != nil {
			idx = *s.OrderIndex
		}
		if seen[idx] {
			return nil, fmt.Errorf("duplicate order_index %d", idx)
		}
		seen[idx] = true
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			return nil, fmt.Errorf("scene %d has no description", idx)
		}
		drafts = append(drafts, models.SceneDraft{OrderIndex: idx, Description: desc})
	}
	return drafts, nil
}
