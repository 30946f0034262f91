package main

import (
	"fmt"
	"os"

	"github.com/sandeepkv93/taskmanager-auth/internal/tools/authcheck"
	"github.com/sandeepkv93/taskmanager-auth/internal/tools/common"
)

func main() {
	if err := common.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := authcheck.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
