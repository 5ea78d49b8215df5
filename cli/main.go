package main

import "github.com/zhaobenny/picost/cli/cmd"

func main() {
	cmd.Execute()
}
