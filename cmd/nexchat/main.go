// Package main 是终端客户端的入口点
package main

import "nexchat/internal/cli"

func main() {
	cli.Execute()
}
