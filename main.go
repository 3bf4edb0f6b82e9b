// Package main -----------------------------
// @file      : main.go
// @author    : hcjjj
// @contact   : hcjjj@foxmail.com
// @time      : 2023/12/15 20:23
// -------------------------------------------
package main

import "github.com/mloughran/em-hiredis/cmd"

func main() {
	cmd.Execute()
}
