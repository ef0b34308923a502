package main

import "github.com/audiolibrelab/helvox/cmd"

func main() {
	cmd.Execute()
}
