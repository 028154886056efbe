package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"payment-failure-alerts/internal/app"
)

var (
	simulateGateway   string
	simulateErrorCode string
	simulateAmount    float64
	simulateCurrency  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条失败事件并触发规则评估",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateGateway == "" {
			return errors.New("--gateway 必须配置")
		}
		if simulateAmount < 0 {
			return errors.New("--amount 不能为负数")
		}

		opts := app.SimulateOptions{
			Gateway:   simulateGateway,
			ErrorCode: simulateErrorCode,
			Amount:    simulateAmount,
			Currency:  simulateCurrency,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateGateway, "gateway", "", "支付网关标识")
	simulateCmd.Flags().StringVar(&simulateErrorCode, "error-code", "card_declined", "失败错误码")
	simulateCmd.Flags().Float64Var(&simulateAmount, "amount", 100, "失败金额")
	simulateCmd.Flags().StringVar(&simulateCurrency, "currency", "USD", "货币代码")
}
