package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nexchat/internal/client"
)

var historyCmd = &cobra.Command{
	Use:   "history [public|private]",
	Short: "查看频道历史",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Bool("ids", false, "显示消息 ID")
}

var sendCmd = &cobra.Command{
	Use:   "send <public|private> <消息>",
	Short: "发送一条消息",
	Long: `发送一条消息并打印写入的行。

公共频道中消息带上 -ai 会请 AI 回复；私聊总会得到 AI 回复。`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func runHistory(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args)
	if err != nil {
		return err
	}
	api, sess, err := requireLogin(cmd.Context())
	if err != nil {
		return err
	}

	msgs, err := api.History(cmd.Context(), kind)
	if err != nil {
		return fmt.Errorf("读取历史失败: %w", err)
	}

	showIDs, _ := cmd.Flags().GetBool("ids")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "── %s（%d 条）──\n", kindTitle(kind), len(msgs))
	for _, m := range msgs {
		if showIDs {
			fmt.Fprintf(out, "#%-5d ", m.ID)
		}
		fmt.Fprintln(out, formatMessage(m, sess.UserID))
	}
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[:1])
	if err != nil {
		return err
	}
	api, sess, err := requireLogin(cmd.Context())
	if err != nil {
		return err
	}

	res, err := api.Send(cmd.Context(), kind, strings.Join(args[1:], " "))
	if client.IsSendPending(err) {
		return fmt.Errorf("上一条消息仍在发送，请稍后再试")
	}
	if err != nil {
		return fmt.Errorf("发送失败: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, formatMessage(*res.User, sess.UserID))
	if res.AI != nil {
		fmt.Fprintln(out, formatMessage(*res.AI, sess.UserID))
	}
	return nil
}
