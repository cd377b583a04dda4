package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"nexchat/internal/chat"
	"nexchat/internal/config"
	"nexchat/internal/model"
	"nexchat/pkg/logger"
	"nexchat/pkg/util"
)

// TextGenerator 文本生成模型
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator 基于 Gemini API 的 TextGenerator
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator 创建 Gemini 客户端
func NewGeminiGenerator(ctx context.Context, cfg config.AIConfig) (*GeminiGenerator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: cfg.Model}, nil
}

// Generate 单次生成，不使用流式输出
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// RecentMessages 最近消息的来源
type RecentMessages interface {
	Recent(ctx context.Context, kind model.ChannelKind, limit int) ([]model.Message, error)
}

// AIService 生成 AI 回复，实现 chat.Responder
type AIService struct {
	gen         TextGenerator
	history     RecentMessages
	contextSize int
	timeout     time.Duration
	log         *logger.Logger
}

var _ chat.Responder = (*AIService)(nil)

// NewAIService 创建 AIService 实例
func NewAIService(gen TextGenerator, history RecentMessages, cfg config.AIConfig, log *logger.Logger) *AIService {
	if log == nil {
		log = logger.Nop()
	}
	size := cfg.ContextSize
	if size <= 0 {
		size = 5
	}
	return &AIService{
		gen:         gen,
		history:     history,
		contextSize: size,
		timeout:     cfg.Timeout,
		log:         log.With("component", "AIService"),
	}
}

// Reply 生成回复
// GROUP 模式附带最近的公共消息作为上下文。
// 任何失败（取上下文、调用模型、返回空文本）都返回 chat.FallbackReply。
func (s *AIService) Reply(ctx context.Context, prompt string, mode model.Mode) string {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	full, err := s.buildPrompt(ctx, prompt, mode)
	if err != nil {
		s.log.Error("build prompt failed", "mode", mode, "error", err)
		return chat.FallbackReply
	}

	start := time.Now()
	text, err := s.gen.Generate(ctx, full)
	if err != nil {
		s.log.Error("generate reply failed", "mode", mode, "error", err)
		return chat.FallbackReply
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.log.Warn("model returned empty reply", "mode", mode)
		return chat.FallbackReply
	}

	s.log.Info("reply generated",
		"mode", mode,
		"prompt", util.TruncateString(prompt, 60),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text
}

func (s *AIService) buildPrompt(ctx context.Context, prompt string, mode model.Mode) (string, error) {
	if mode != model.ModeGroup {
		return oneOnOnePrompt(prompt), nil
	}

	recent, err := s.history.Recent(ctx, model.ChannelPublic, s.contextSize)
	if err != nil {
		return "", fmt.Errorf("fetch context: %w", err)
	}
	return groupPrompt(recent, prompt), nil
}

func oneOnOnePrompt(prompt string) string {
	return fmt.Sprintf("You’re a friendly AI chatting one-on-one with a user. Respond naturally to: \"%s\"", prompt)
}

// groupPrompt recent 为最新在前，渲染时翻转为时间顺序
func groupPrompt(recent []model.Message, prompt string) string {
	lines := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		lines = append(lines, recent[i].Username+": "+recent[i].Message)
	}
	return fmt.Sprintf(
		"You’re an AI user in a public chat with multiple people. Here’s the recent conversation:\n%s\nNow respond to this message as part of the group: \"%s\"",
		strings.Join(lines, "\n"), prompt,
	)
}
