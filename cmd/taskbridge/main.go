// Package main provides the TaskBridge CLI client.
package main

import "github.com/raphaelgruber/taskbridge/internal/cli"

func main() {
	cli.Execute()
}
