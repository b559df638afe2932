package main

import "chatsync/internal/cli"

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)
	cli.Execute()
}
