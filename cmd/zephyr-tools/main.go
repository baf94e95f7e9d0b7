package main

import "github.com/oshokin/zephyr-tools/cmd/zephyr-tools/cmd"

func main() {
	cmd.Execute()
}
