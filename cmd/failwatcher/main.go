package main

import (
	"payment-failure-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
