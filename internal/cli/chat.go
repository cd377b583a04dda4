package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"nexchat/internal/chat"
	"nexchat/internal/client"
	"nexchat/internal/model"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式聊天",
	Long: `进入交互式聊天，实时显示频道中的新消息。

输入文字后回车发送。
  /switch  在公共频道与私聊之间切换
  /help    显示帮助
  /quit    退出`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().Bool("private", false, "从私聊开始")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	api, sess, err := requireLogin(ctx)
	if err != nil {
		return err
	}

	username, err := api.Username(ctx)
	if err != nil {
		username = "Unknown"
	}

	fmt.Fprintln(cmd.OutOrStdout(), "🌐 正在连接服务器...")
	rt, err := client.DialRealtime(ctx, api.BaseURL(), api.Token(), nil)
	if err != nil {
		return fmt.Errorf("连接实时通道失败: %w", err)
	}
	defer rt.Close()

	syncer := chat.NewSynchronizer(client.NewStore(api, rt), client.NewResponder(api, nil), nil)
	defer syncer.Close()

	kind := model.ChannelPublic
	if private, _ := cmd.Flags().GetBool("private"); private {
		kind = model.ChannelPrivate
	}

	s := newChatSession(syncer, cmd.OutOrStdout(), sess.UserID, username)
	return s.run(ctx, kind, cmd.InOrStdin())
}

// chatSession 交互式聊天的一次会话
// 所有输出都在 run 所在的协程中完成
type chatSession struct {
	sync     *chat.Synchronizer
	out      io.Writer
	userID   string
	username string

	view  *view
	sends sync.WaitGroup
	errs  chan error
}

func newChatSession(s *chat.Synchronizer, out io.Writer, userID, username string) *chatSession {
	return &chatSession{
		sync:     s,
		out:      out,
		userID:   userID,
		username: username,
		view:     newView(),
		errs:     make(chan error, 8),
	}
}

// run 挂载频道并处理输入，直到 /quit、输入结束或 ctx 取消
func (s *chatSession) run(ctx context.Context, kind model.ChannelKind, in io.Reader) error {
	// 返回时让读输入的协程退出
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.mount(ctx, kind); err != nil {
		return err
	}
	s.printHelp()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	defer func() {
		s.sends.Wait()
		s.flush()
		s.drainErrors()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.sync.Updates():
			s.flush()

		case err := <-s.errs:
			s.printError(err)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle 处理一行输入，返回是否退出
func (s *chatSession) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		s.printHelp()
		return false
	case "/switch":
		s.flush()
		kind, _ := s.sync.Channel()
		next := model.ChannelPrivate
		if kind == model.ChannelPrivate {
			next = model.ChannelPublic
		}
		if err := s.mount(ctx, next); err != nil {
			s.printError(err)
		}
		return false
	}

	if s.sync.Pending() {
		s.printError(chat.ErrSendPending)
		return false
	}

	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		if _, err := s.sync.Send(ctx, line); err != nil {
			select {
			case s.errs <- err:
			default:
			}
		}
	}()
	return false
}

func (s *chatSession) mount(ctx context.Context, kind model.ChannelKind) error {
	if err := s.sync.Mount(ctx, kind, s.userID, s.username); err != nil {
		return err
	}
	s.view.reset()
	fmt.Fprintf(s.out, "\n── %s ──\n", kindTitle(kind))
	if kind == model.ChannelPublic {
		fmt.Fprintln(s.out, "  消息中加上 -ai 可以请 AI 回复")
	}
	s.flush()
	return nil
}

func (s *chatSession) flush() {
	for _, line := range s.view.render(s.sync.Messages(), s.userID) {
		fmt.Fprintln(s.out, line)
	}
}

func (s *chatSession) drainErrors() {
	for {
		select {
		case err := <-s.errs:
			s.printError(err)
		default:
			return
		}
	}
}

func (s *chatSession) printError(err error) {
	switch {
	case errors.Is(err, chat.ErrSendPending):
		fmt.Fprintln(s.out, "⏳ 上一条消息仍在发送")
	case errors.Is(err, chat.ErrEmptyMessage):
		fmt.Fprintln(s.out, "⚠️  消息不能为空")
	default:
		fmt.Fprintf(s.out, "❌ %v\n", err)
	}
}

func (s *chatSession) printHelp() {
	fmt.Fprintln(s.out, "  (/switch 切换频道，/quit 退出)")
}
