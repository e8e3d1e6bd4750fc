package main

import "github.com/proxygather/proxygather/cmd"

func main() {
	cmd.Execute()
}
