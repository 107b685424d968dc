package main

import "github.com/fakeyudi/script/cmd"

func main() {
	cmd.Execute()
}
