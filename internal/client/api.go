// Package client 封装终端客户端与服务器的交互
// REST 负责认证、资料与消息读写，WebSocket 负责订阅行变更
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"nexchat/internal/model"
)

// ErrUnauthorized Token 缺失、过期或已登出
var ErrUnauthorized = errors.New("未登录或登录已过期")

// 与服务端约定的业务状态码
const (
	codeSuccess     = 0
	codeSendPending = 1304
)

// APIError 服务端返回的业务错误
type APIError struct {
	Status  int    // HTTP 状态码
	Code    int    // 业务状态码
	Message string // 错误信息
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API 错误 %d: %s", e.Code, e.Message)
}

// Unwrap 401 统一映射为 ErrUnauthorized
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// APIResponse 通用响应
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client API 客户端
// baseURL: 例如 http://localhost:8080
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient 创建 API 客户端
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken 设置后续请求使用的 Access Token
func (c *Client) SetToken(accessToken string) {
	c.accessToken = accessToken
}

// Token 当前的 Access Token
func (c *Client) Token() string {
	return c.accessToken
}

// BaseURL 服务器地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ==================== 认证 ====================

// Credentials 注册与登录共用的凭证
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpResponse 注册响应
type SignUpResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	User         *model.User `json:"user"`
}

// RefreshResponse 刷新响应
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Session 当前会话
type Session struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// SignUp 注册账号
func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResponse, error) {
	var out SignUpResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/signup", Credentials{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login 使用邮箱密码登录，成功后自动保存 Access Token
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/signin", Credentials{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	c.accessToken = out.AccessToken
	return &out, nil
}

// Refresh 用 Refresh Token 换取新的 Access Token
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var out RefreshResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/refresh", body, &out); err != nil {
		return nil, err
	}
	c.accessToken = out.AccessToken
	return &out, nil
}

// Logout 登出，refreshToken 非空时一并作废
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refresh_token": refreshToken}
	return c.call(ctx, http.MethodPost, "/api/v1/auth/signout", body, nil)
}

// Session 获取当前会话，未登录返回 ErrUnauthorized
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var out Session
	if err := c.call(ctx, http.MethodGet, "/api/v1/auth/session", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ==================== 资料 ====================

// OnboardRequest 引导请求
type OnboardRequest struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Age      int    `json:"age,omitempty"`
}

// Profile 获取当前用户资料，尚未引导时返回 (nil, nil)
func (c *Client) Profile(ctx context.Context) (*model.Profile, error) {
	var out model.Profile
	err := c.call(ctx, http.MethodGet, "/api/v1/profile", nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Onboard 创建或补全资料
func (c *Client) Onboard(ctx context.Context, req OnboardRequest) (*model.Profile, error) {
	var out model.Profile
	if err := c.call(ctx, http.MethodPost, "/api/v1/profile/onboard", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Username 当前用户的显示名，查不到时服务端返回 "Unknown"
func (c *Client) Username(ctx context.Context) (string, error) {
	var out struct {
		Username string `json:"username"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/profile/username", nil, &out); err != nil {
		return "", err
	}
	return out.Username, nil
}

// ==================== 消息 ====================

// SendResult 服务端一次发送写入的行
type SendResult struct {
	User *model.Message `json:"user"`
	AI   *model.Message `json:"ai,omitempty"`
}

// History 频道历史，按时间升序
func (c *Client) History(ctx context.Context, kind model.ChannelKind) ([]model.Message, error) {
	var out []model.Message
	if err := c.call(ctx, http.MethodGet, "/api/v1/chats/"+string(kind), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Recent 公共频道最新的 limit 条，最新的在前
func (c *Client) Recent(ctx context.Context, limit int) ([]model.Message, error) {
	var out []model.Message
	path := "/api/v1/chats/public/recent?limit=" + strconv.Itoa(limit)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendMessage 写入一行，返回服务端存储的行
func (c *Client) AppendMessage(ctx context.Context, kind model.ChannelKind, msg *model.Message) (*model.Message, error) {
	body := map[string]interface{}{
		"user_id":  msg.UserID,
		"sender":   msg.Sender,
		"username": msg.Username,
		"message":  msg.Message,
	}
	if !msg.CreatedAt.IsZero() {
		body["created_at"] = msg.CreatedAt
	}
	var out model.Message
	if err := c.call(ctx, http.MethodPost, "/api/v1/chats/"+string(kind), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send 由服务端执行完整发送流程
func (c *Client) Send(ctx context.Context, kind model.ChannelKind, text string) (*SendResult, error) {
	var out SendResult
	body := map[string]string{"message": text}
	if err := c.call(ctx, http.MethodPost, "/api/v1/chats/"+string(kind)+"/send", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMessage 修改自己的一条消息
func (c *Client) UpdateMessage(ctx context.Context, kind model.ChannelKind, id int64, text string) (*model.Message, error) {
	var out model.Message
	path := fmt.Sprintf("/api/v1/chats/%s/%d", kind, id)
	if err := c.call(ctx, http.MethodPut, path, map[string]string{"message": text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMessage 删除自己的一条消息
func (c *Client) DeleteMessage(ctx context.Context, kind model.ChannelKind, id int64) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/chats/%s/%d", kind, id), nil, nil)
}

// ==================== AI ====================

// Reply 请求服务端生成 AI 回复
func (c *Client) Reply(ctx context.Context, prompt string, mode model.Mode) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	body := map[string]string{"prompt": prompt, "mode": string(mode)}
	if err := c.call(ctx, http.MethodPost, "/api/v1/ai/reply", body, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

// ==================== 通用请求封装 ====================

// call 发送请求并把 data 字段解析到 out（可为 nil）
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("解析响应失败: %v", err)}
	}
	if resp.StatusCode >= 400 || apiResp.Code != codeSuccess {
		return &APIError{Status: resp.StatusCode, Code: apiResp.Code, Message: apiResp.Message}
	}

	if out == nil || len(apiResp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// wsURL 把 HTTP 地址转换为 WebSocket 地址
func wsURL(baseURL, path string, query url.Values) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// IsSendPending 服务端是否因上一次发送未完成而拒绝
func IsSendPending(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeSendPending
}
