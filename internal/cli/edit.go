package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nexchat/internal/client"
	"nexchat/internal/model"
)

var editCmd = &cobra.Command{
	Use:   "edit <public|private> <消息ID> <新内容>",
	Short: "修改自己发送的消息",
	Long: `修改一条自己发送的消息，在线的客户端会看到更新。

消息 ID 可以通过 history --ids 查看。`,
	Args: cobra.MinimumNArgs(3),
	RunE: runEdit,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <public|private> <消息ID>",
	Short: "删除自己发送的消息",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

func runEdit(cmd *cobra.Command, args []string) error {
	kind, id, err := parseTarget(args)
	if err != nil {
		return err
	}
	api, sess, err := requireLogin(cmd.Context())
	if err != nil {
		return err
	}
	return editMessage(cmd.Context(), api, cmd.OutOrStdout(), kind, id, strings.Join(args[2:], " "), sess.UserID)
}

func runDelete(cmd *cobra.Command, args []string) error {
	kind, id, err := parseTarget(args)
	if err != nil {
		return err
	}
	api, _, err := requireLogin(cmd.Context())
	if err != nil {
		return err
	}
	return deleteMessage(cmd.Context(), api, cmd.OutOrStdout(), kind, id)
}

// parseTarget 解析 <频道> <消息ID>
func parseTarget(args []string) (model.ChannelKind, int64, error) {
	kind, err := parseKind(args[:1])
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[1], "#"), 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("无效的消息 ID: %s", args[1])
	}
	return kind, id, nil
}

func editMessage(ctx context.Context, api *client.Client, out io.Writer, kind model.ChannelKind, id int64, text, selfID string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("消息不能为空")
	}
	msg, err := api.UpdateMessage(ctx, kind, id, text)
	if err != nil {
		return fmt.Errorf("修改失败: %w", err)
	}
	fmt.Fprintln(out, "✅ 已修改")
	fmt.Fprintln(out, formatMessage(*msg, selfID))
	return nil
}

func deleteMessage(ctx context.Context, api *client.Client, out io.Writer, kind model.ChannelKind, id int64) error {
	if err := api.DeleteMessage(ctx, kind, id); err != nil {
		return fmt.Errorf("删除失败: %w", err)
	}
	fmt.Fprintf(out, "✅ 消息 #%d 已删除\n", id)
	return nil
}
