package main

import "invite-checkout/cmd"

func main() {
	cmd.Execute()
}
