package main

import "github.com/devicelab-dev/uiagent/pkg/cli"

func main() {
	cli.Execute()
}
