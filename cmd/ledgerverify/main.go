// Command ledgerverify audits a hash-chain journal offline. It re-hashes
// every link with the chain key and exits 1 when the chain is broken.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/elshodweb/diploma-backend/internal/ledger"
)

type report struct {
	Journal string         `json:"journal"`
	Records int            `json:"records"`
	Head    string         `json:"head,omitempty"`
	Valid   bool           `json:"valid"`
	Error   string         `json:"error,omitempty"`
	Entries []ledger.Entry `json:"entries,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("ledgerverify", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	journal := fs.StringP("journal", "j", "", "path to the hash-chain journal (required)")
	document := fs.StringP("document", "d", "", "list the entries of this document id")
	secret := fs.String("secret", os.Getenv("LEDGER_CHAIN_SECRET"), "chain secret (default $LEDGER_CHAIN_SECRET)")
	asJSON := fs.Bool("json", false, "print a JSON report")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *journal == "" {
		fmt.Fprintln(stderr, "ledgerverify: --journal is required")
		fs.PrintDefaults()
		return 2
	}
	if *secret == "" {
		fmt.Fprintln(stderr, "ledgerverify: --secret or LEDGER_CHAIN_SECRET is required")
		return 2
	}

	rep := report{Journal: *journal}
	records, head, err := ledger.VerifyJournal(ledger.DeriveChainKey(*secret), *journal)
	rep.Records = len(records)
	switch {
	case err == nil:
		rep.Valid, rep.Head = true, head
	case errors.Is(err, ledger.ErrChainBroken):
		rep.Error = err.Error()
	default:
		fmt.Fprintf(stderr, "ledgerverify: %v\n", err)
		return 2
	}

	if *document != "" {
		for _, r := range records {
			e, derr := ledger.DecodePayload(r.Payload)
			if derr != nil {
				fmt.Fprintf(stderr, "ledgerverify: record %d: %v\n", r.Index, derr)
				continue
			}
			if e.DocumentID == *document {
				e.Reference, e.Network = r.Ref, "hashchain"
				rep.Entries = append(rep.Entries, e)
			}
		}
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	} else {
		printText(stdout, rep)
	}
	if !rep.Valid {
		return 1
	}
	return 0
}

func printText(w io.Writer, rep report) {
	if rep.Valid {
		fmt.Fprintf(w, "OK %s: %d records, head %s\n", rep.Journal, rep.Records, rep.Head)
	} else {
		fmt.Fprintf(w, "BROKEN %s: %s\n", rep.Journal, rep.Error)
	}
	for _, e := range rep.Entries {
		fmt.Fprintf(w, "  #%d pos=%d %s %s by %s at %s ref=%s\n",
			e.EntryID, e.Position, e.Kind, e.ContentHash, e.CommittedBy, e.CommittedAt.Format("2006-01-02T15:04:05.000Z07:00"), e.Reference)
	}
}
