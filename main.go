package main

import "github.com/thedusen/booksphere-web-sub002/cmd"

func main() {
	cmd.Execute()
}
