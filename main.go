package main

import "github.com/encodeous/dirgen/cmd"

func main() {
	cmd.Execute()
}
