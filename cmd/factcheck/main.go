// Command factcheck runs the fact extractor against a narrative and prints
// the structured record plus the rendered notification text. Handy for
// checking how a real CAD detail panel will be summarized without touching
// Telegram or the live site.
//
// Usage:
//
//	go run ./cmd/factcheck -file narrative.txt
//	pbpaste | go run ./cmd/factcheck -type "Trfc Collision-No Inj" -area "San Diego"
//
// The input is one narrative line per text line, as copied from the CAD
// detail panel.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/couchcryptid/cad-incident-notifier/internal/domain"
)

func main() {
	file := flag.String("file", "", "narrative file to read (default: stdin)")
	incType := flag.String("type", "Trfc Collision-No Inj", "incident type line")
	area := flag.String("area", "", "area shown in the message header")
	location := flag.String("location", "", "location shown in the message header")
	maxDetail := flag.Int("max-detail", 2500, "detail blockquote budget in characters")
	flag.Parse()

	lines, err := readLines(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "factcheck:", err)
		os.Exit(1)
	}

	facts := domain.ExtractFacts(lines)
	sig := domain.Signature(*incType, lines, facts)

	out, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "factcheck:", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
	fmt.Println("signature:", sig)

	inc := domain.RawIncident{
		Time:     facts.LastTimeMarker,
		Type:     *incType,
		Location: *location,
		Area:     *area,
	}
	fmt.Println()
	fmt.Println(domain.RenderMessage(inc, nil, lines, facts, *maxDetail))
}

func readLines(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			lines = append(lines, s)
		}
	}
	return lines, sc.Err()
}
