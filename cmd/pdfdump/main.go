package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/wudi/pdfrev/document"
	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/parser"
	"github.com/wudi/pdfrev/recovery"
	"github.com/wudi/pdfrev/scanner"
)

type options struct {
	pdfPath string
	tokens  bool
	xref    bool
	objects bool
	strict  bool
	verbose bool
	limit   int
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfdump: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "pdfdump: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: pdfdump [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	flag.BoolVar(&opts.tokens, "tokens", false, "Print the raw token stream")
	flag.BoolVar(&opts.xref, "xref", false, "Print every cross-reference section, newest first")
	flag.BoolVar(&opts.objects, "objects", true, "Print the object table")
	flag.BoolVar(&opts.strict, "strict", false, "Fail on the first malformed object")
	flag.BoolVar(&opts.verbose, "v", false, "Log parser decisions to stderr")
	flag.IntVar(&opts.limit, "limit", 200000, "Maximum number of tokens to print")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.pdfPath = flag.Arg(0)
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	data, err := os.ReadFile(opts.pdfPath)
	if err != nil {
		return err
	}
	var logger observability.Logger = observability.NopLogger{}
	if opts.verbose {
		logger = observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if opts.tokens {
		if err := dumpTokens(out, data, opts.limit); err != nil {
			return err
		}
	}

	if opts.xref {
		var strategy recovery.Strategy
		if !opts.strict {
			strategy = recovery.NewLenientStrategy()
		}
		pd, err := parser.NewDocumentParser(parser.Config{Recovery: strategy, Logger: logger, IgnoreEncryption: true}).Parse(ctx, data)
		if err != nil {
			return err
		}
		dumpXRef(out, pd)
	}

	if opts.objects {
		doc, err := document.Load(ctx, data, document.LoadOptions{Strict: opts.strict, IgnoreEncryption: true, Logger: logger})
		if err != nil {
			return err
		}
		if err := dumpObjects(out, doc); err != nil {
			return err
		}
		for _, d := range doc.Diagnostics() {
			fmt.Fprintf(out, "warning: %s\n", d)
		}
	}
	return nil
}

func dumpTokens(out io.Writer, data []byte, limit int) error {
	s := scanner.New(data, scanner.Config{Recovery: recovery.NewLenientStrategy()})
	for i := 0; i < limit; i++ {
		tok, err := s.Next()
		if err != nil {
			return fmt.Errorf("token at %d: %w", s.Position(), err)
		}
		if tok.Type == scanner.TokenEOF {
			return nil
		}
		fmt.Fprintf(out, "%d\t%s\t%s\n", tok.Pos, tok.Type, tok)
	}
	return nil
}

func dumpXRef(out io.Writer, pd *parser.Document) {
	t := pd.Table
	fmt.Fprintf(out, "xref: %s, startxref %d, %d section(s)\n", t.Type(), t.StartXRef, len(t.Sections))
	if t.Repaired {
		fmt.Fprintf(out, "repaired: %v\n", t.RepairCause)
	}
	for i, sec := range t.Sections {
		fmt.Fprintf(out, "section %d @%d (%s) prev=%d entries=%d\n", i, sec.Offset, sec.Kind, sec.Prev, len(sec.Entries))
		if sec.Trailer != nil {
			fmt.Fprintf(out, "  trailer %s\n", raw.Serialize(sec.Trailer))
		}
	}
	for _, num := range t.Objects() {
		e, _ := t.Lookup(num)
		fmt.Fprintf(out, "  %d: %s\n", num, e)
	}
}

func dumpObjects(out io.Writer, doc *document.Document) error {
	c := doc.Context()
	fmt.Fprintf(out, "PDF-%s, %d objects\n", doc.Version(), doc.ObjectCount())
	for _, ref := range c.Refs() {
		obj, err := c.LookupRef(ref)
		if err != nil {
			fmt.Fprintf(out, "%s: error: %v\n", ref, err)
			continue
		}
		switch v := obj.(type) {
		case *raw.StreamObj:
			fmt.Fprintf(out, "%s: stream %s (%d bytes)\n", ref, raw.Serialize(v.Dict), len(v.Data))
		default:
			fmt.Fprintf(out, "%s: %s\n", ref, raw.Serialize(obj))
		}
	}
	return nil
}
