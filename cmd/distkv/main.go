package main

import (
	"distkv/cmd"
)

func main() {
	cmd.Execute()
}
