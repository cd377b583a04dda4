package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nexchat/internal/client"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "设置显示名等资料",
	Long: `创建或补全个人资料。

已有的字段不会被覆盖，只填充目前为空的字段。`,
	RunE: runOnboard,
}

func init() {
	onboardCmd.Flags().StringP("username", "u", "", "显示名（必填）")
	onboardCmd.Flags().String("name", "", "姓名")
	onboardCmd.Flags().Int("age", 0, "年龄")
	_ = onboardCmd.MarkFlagRequired("username")
}

func runOnboard(cmd *cobra.Command, _ []string) error {
	api, _, err := requireLogin(cmd.Context())
	if err != nil {
		return err
	}

	username, _ := cmd.Flags().GetString("username")
	name, _ := cmd.Flags().GetString("name")
	age, _ := cmd.Flags().GetInt("age")

	p, err := api.Onboard(cmd.Context(), client.OnboardRequest{Username: username, Name: name, Age: age})
	if err != nil {
		return fmt.Errorf("保存资料失败: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "✅ 资料已保存")
	fmt.Fprintf(out, "  显示名: %s\n", p.Username)
	if p.Name != "" {
		fmt.Fprintf(out, "  姓名: %s\n", p.Name)
	}
	if p.Age > 0 {
		fmt.Fprintf(out, "  年龄: %d\n", p.Age)
	}
	return nil
}
