// Command auditcheck re-verifies the hash linkage of a persisted audit
// log document and reports the first break, if any.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"vaultkit.org/internal/audit"
)

func main() {
	log.SetFlags(0)
	var (
		path   = flag.String("log", "", "Path to the audit log document (JSON)")
		asJSON = flag.Bool("json", false, "Emit the verification result as JSON")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("usage: auditcheck -log <file> [-json]")
	}

	events, err := audit.ReadLogFile(*path)
	if err != nil {
		log.Fatalf("auditcheck: %v", err)
	}

	result := audit.Verify(events, audit.DefaultHash)

	if *asJSON {
		out, _ := json.Marshal(result)
		fmt.Println(string(out))
	} else if result.Valid {
		fmt.Printf("chain intact: %d events\n", len(events))
	} else {
		fmt.Printf("chain BROKEN at index %d of %d events\n", result.BrokenAt, len(events))
	}

	if !result.Valid {
		os.Exit(1)
	}
}
