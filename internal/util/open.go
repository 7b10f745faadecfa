// Package util 命令行辅助：用系统默认程序打开文件或地址、终端输出格式化
package util

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/shopspring/decimal"
)

// Open 用系统默认程序打开文件或 URL
func Open(target string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		// rundll32 调用 url.dll，文件与 URL 都可用
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	case "darwin":
		cmd = exec.Command("open", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}

	return cmd.Start()
}

// OpenWithFallback 带降级方案的打开
func OpenWithFallback(target string) error {
	err := Open(target)
	if err == nil {
		return nil
	}

	switch runtime.GOOS {
	case "windows":
		return exec.Command("explorer", target).Start()
	case "linux":
		for _, app := range []string{"libreoffice", "gio", "sensible-browser"} {
			args := []string{target}
			if app == "gio" {
				args = []string{"open", target}
			}
			if err := exec.Command(app, args...).Start(); err == nil {
				return nil
			}
		}
	}

	return err
}

// FormatPercent 格式化百分比（输入已是百分数）
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatCurrency 格式化金额（千分位，按 places 位小数四舍五入）
func FormatCurrency(value float64, places int32) string {
	s := decimal.NewFromFloat(value).StringFixed(places)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + frac
}
