// Command parseticket reads an OCR transcription from a file or stdin and
// prints the extracted ticket as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

func main() {
	policy := flag.String("policy", "conservative", "train number policy: conservative or loose")
	rules := flag.Bool("rules", false, "list the rule cascade and exit")
	flag.Parse()

	p, err := ticket.ParsePolicy(*policy)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	parser := ticket.NewParser(ticket.WithTrainNumberPolicy(p))
	if *rules {
		for _, name := range parser.Rules() {
			fmt.Println(name)
		}
		return
	}

	var in io.Reader = os.Stdin
	if flag.NArg() > 0 && flag.Arg(0) != "-" {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}
	text, err := io.ReadAll(in)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rec := parser.Parse(string(text))
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if missing := rec.Missing(); len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "missing: %v\n", missing)
	}
}
