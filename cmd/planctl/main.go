// planctl 规则引擎命令行工具：离线校验、规则冲突检查、模板导出、数据库迁移与种子数据
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errPlanInvalid) {
			fmt.Fprintln(os.Stderr, "错误:", err)
		}
		os.Exit(1)
	}
}
