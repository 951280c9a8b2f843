package main

import "haulhub/cmd/haulhub-cli/command"

func main() {
	command.Execute()
}
