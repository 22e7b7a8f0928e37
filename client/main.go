package main

import "github.com/mahaj/groupchat/client/cmd"

func main() {
	cmd.Execute()
}
