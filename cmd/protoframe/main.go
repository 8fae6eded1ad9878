package main

import "github.com/seandlg/protoframe/cmd/protoframe/command"

func main() {
	command.Execute()
}
