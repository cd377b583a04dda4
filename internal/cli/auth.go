package cli

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nexchat/internal/cli/config"
	"nexchat/internal/client"
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "注册新账号",
	RunE:  runSignup,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "登录并保存凭证",
	Long: `使用邮箱和密码登录，凭证保存在 ~/.nexchat/config.yaml。

密码可以通过 --password 传入，否则会提示隐藏输入。`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "登出并清除本地凭证",
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示当前登录状态",
	RunE:  runStatus,
}

func init() {
	for _, c := range []*cobra.Command{signupCmd, loginCmd} {
		c.Flags().StringP("email", "e", "", "登录邮箱")
		c.Flags().StringP("password", "p", "", "密码（不建议在命令行中明文传入）")
	}
}

// readCredentials 从参数或交互输入读取邮箱和密码
func readCredentials(cmd *cobra.Command) (string, string, error) {
	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		var err error
		if email, err = prompt(reader, out, "请输入邮箱: "); err != nil {
			return "", "", err
		}
	}
	if email == "" {
		return "", "", fmt.Errorf("邮箱不能为空")
	}

	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		var err error
		if password, err = promptPassword(reader, out, "请输入密码: "); err != nil {
			return "", "", err
		}
	}
	if password == "" {
		return "", "", fmt.Errorf("密码不能为空")
	}
	return email, password, nil
}

func runSignup(cmd *cobra.Command, _ []string) error {
	email, password, err := readCredentials(cmd)
	if err != nil {
		return err
	}

	api := client.NewClient(config.GetServerURL())
	res, err := api.SignUp(cmd.Context(), email, password)
	if err != nil {
		return fmt.Errorf("注册失败: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "✅ 注册成功")
	fmt.Fprintf(out, "  👤 账号: %s\n", res.Email)
	fmt.Fprintln(out, "  下一步: nexchat login")
	return nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	email, password, err := readCredentials(cmd)
	if err != nil {
		return err
	}

	api := client.NewClient(config.GetServerURL())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "🔐 正在登录...")
	res, err := api.Login(cmd.Context(), email, password)
	if err != nil {
		return fmt.Errorf("登录失败: %w", err)
	}

	if err := config.SaveAuth(config.AuthConfig{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		UserID:       res.User.ID,
		Email:        res.User.Email,
	}); err != nil {
		return fmt.Errorf("保存登录信息失败: %w", err)
	}

	fmt.Fprintln(out, "✅ 登录成功！")
	fmt.Fprintf(out, "  👤 账号: %s\n", res.User.Email)

	// 尚未引导时提示
	if p, err := api.Profile(cmd.Context()); err == nil && p == nil {
		fmt.Fprintln(out, "  下一步: nexchat onboard --username <显示名>")
	}
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if !config.IsLoggedIn() {
		fmt.Fprintln(out, "当前未登录")
		return nil
	}

	auth := config.Get().Auth
	api := client.NewClient(config.GetServerURL())
	api.SetToken(auth.AccessToken)

	// 服务端作废失败不影响清除本地凭证
	if err := api.Logout(cmd.Context(), auth.RefreshToken); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  服务端登出失败: %v\n", err)
	}

	if err := config.ClearAuth(); err != nil {
		return fmt.Errorf("清除凭证失败: %w", err)
	}
	fmt.Fprintln(out, "✓ 已登出并清除本地凭证")
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "╔════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║              nexchat 状态信息                   ║")
	fmt.Fprintln(out, "╚════════════════════════════════════════════════╝")
	fmt.Fprintf(out, "  服务器: %s\n", config.GetServerURL())

	if !config.IsLoggedIn() {
		fmt.Fprintln(out, "  登录状态: ✗ 未登录")
		return nil
	}

	api, sess, err := requireLogin(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "  登录状态: ✗ %v\n", err)
		return nil
	}
	fmt.Fprintln(out, "  登录状态: ✓ 已登录")
	fmt.Fprintf(out, "  账号: %s\n", sess.Email)
	fmt.Fprintf(out, "  用户 ID: %s\n", sess.UserID)

	if name, err := api.Username(cmd.Context()); err == nil {
		fmt.Fprintf(out, "  显示名: %s\n", name)
	}
	return nil
}
