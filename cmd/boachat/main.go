package main

import "github.com/moduspwnens/boa-chat/cmd/boachat/cmd"

func main() {
	cmd.Execute()
}
