package main

import (
	"fmt"
	"os"

	"github.com/LumeraProtocol/notary/notary/cmd"
	"github.com/LumeraProtocol/notary/pkg/errors"
)

func main() {
	defer errors.Recover(func(cause error) {
		fmt.Fprintf(os.Stderr, "notary: %v\n%s\n", cause, errors.StackOf(cause))
		os.Exit(2)
	})
	cmd.Execute()
}
