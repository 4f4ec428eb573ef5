// Command intentctl 在本地直接运行意图解析流水线，便于调试目录与行情配置。
package main

import "os"

func main() {
	os.Exit(NewRunner(os.Stdout, os.Stderr).Run(os.Args[1:]))
}
