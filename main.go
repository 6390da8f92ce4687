package main

import "github.com/nextlevelbuilder/pagedclaw/cmd"

func main() {
	cmd.Execute()
}
