package main

import "github.com/mubot/mu/cmd"

func main() {
	cmd.Execute()
}
