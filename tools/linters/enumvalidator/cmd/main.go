package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"brokerdesk.sg/relay/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
