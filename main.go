package main

import "github.com/andresmejia3/turnstile/cmd"

func main() {
	cmd.Execute()
}
