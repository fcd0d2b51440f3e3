package main

import "github.com/pgmirror/pgmirror/cmd"

func main() {
	cmd.Execute()
}
