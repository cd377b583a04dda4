// Package cli 实现 nexchat 终端客户端的命令
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"nexchat/internal/cli/config"
	"nexchat/internal/client"
	"nexchat/internal/model"
)

var rootCmd = &cobra.Command{
	Use:   "nexchat",
	Short: "nexchat - 带 AI 伙伴的终端聊天客户端",
	Long: `nexchat 终端客户端

公共频道里所有人都能看到彼此的消息，消息中带上 -ai 会请 AI 一起回复；
私聊频道只有你和你的 AI 伙伴。

首次使用请先运行 'nexchat signup' 和 'nexchat login'。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
// Ctrl+C 取消命令的 context
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局参数
	rootCmd.PersistentFlags().StringP("server", "s", "", "服务器地址 (默认: "+config.DefaultServerURL+")")

	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, statusCmd, onboardCmd, historyCmd, sendCmd, editCmd, deleteCmd, chatCmd)
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "初始化配置失败: %v\n", err)
		os.Exit(1)
	}

	// 如果指定了服务器地址，更新配置
	if server, _ := rootCmd.PersistentFlags().GetString("server"); server != "" {
		config.SetServerURL(server)
	}
}

// requireLogin 返回带 Token 的客户端
// Access Token 过期时用 Refresh Token 换一个新的并保存
func requireLogin(ctx context.Context) (*client.Client, *client.Session, error) {
	if !config.IsLoggedIn() {
		return nil, nil, errors.New("尚未登录，请先运行 'nexchat login'")
	}
	auth := config.Get().Auth

	api := client.NewClient(config.GetServerURL())
	api.SetToken(auth.AccessToken)

	sess, err := api.Session(ctx)
	if errors.Is(err, client.ErrUnauthorized) && auth.RefreshToken != "" {
		if _, rerr := api.Refresh(ctx, auth.RefreshToken); rerr == nil {
			_ = config.SaveAccessToken(api.Token())
			sess, err = api.Session(ctx)
		}
	}
	if errors.Is(err, client.ErrUnauthorized) {
		return nil, nil, errors.New("登录已过期，请重新运行 'nexchat login'")
	}
	if err != nil {
		return nil, nil, err
	}
	return api, sess, nil
}

// parseKind 解析频道参数，缺省为公共频道
func parseKind(args []string) (model.ChannelKind, error) {
	if len(args) == 0 {
		return model.ChannelPublic, nil
	}
	return model.ParseChannelKind(args[0])
}

func kindTitle(kind model.ChannelKind) string {
	if kind == model.ChannelPrivate {
		return "私聊"
	}
	return "公共频道"
}

// prompt 读取一行输入
func prompt(r *bufio.Reader, w io.Writer, label string) (string, error) {
	fmt.Fprint(w, label)
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword 隐藏输入读取密码；标准输入不是终端时按普通行读取
func promptPassword(r *bufio.Reader, w io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(r, w, label)
	}
	fmt.Fprint(w, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(w) // 换行
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
