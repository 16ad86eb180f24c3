package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// 通知正在运行的 apartment-finder serve 重新打开日志并重新加载清洗数据
// 用法: go run . [pid文件]
func main() {
	pidFile := "apartment-finder.pid"
	if len(os.Args) > 1 {
		pidFile = os.Args[1]
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		log.Fatal("读取pid文件失败:", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		log.Fatalf("pid文件内容无效 %q: %v", data, err)
	}

	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		log.Fatal("Failed to send SIGHUP:", err)
	}
	log.Printf("已向进程 %d 发送 SIGHUP", pid)
}
