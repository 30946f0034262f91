package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type CIResult struct {
	OK      bool     `json:"ok"`
	Command string   `json:"command"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes one JSON line to stdout for CI log scraping.
func PrintCIResult(ok bool, command string, details []string, err error) {
	writeCIResult(os.Stdout, ok, command, details, err)
}

func writeCIResult(w io.Writer, ok bool, command string, details []string, err error) {
	res := CIResult{OK: ok, Command: command, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	b, mErr := json.Marshal(res)
	if mErr != nil {
		_, _ = fmt.Fprintf(w, `{"ok":false,"command":%q,"error":%q}`+"\n", command, mErr.Error())
		return
	}
	_, _ = fmt.Fprintln(w, string(b))
}
