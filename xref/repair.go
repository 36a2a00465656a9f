package xref

import (
	"context"
	"errors"
	"sort"

	"github.com/wudi/pdfrev/ir/raw"
	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/recovery"
	"github.com/wudi/pdfrev/scanner"
)

// Repair scans the entire file for "N G obj" headers and trailer
// dictionaries and rebuilds a single-section table. When an object number
// occurs more than once the highest generation wins, and on equal
// generations the later definition wins. Members of object streams found
// during the scan are registered as compressed entries unless the number is
// also defined directly. Without a usable trailer one is synthesised from the
// /Type /Catalog object.
func Repair(ctx context.Context, data []byte, src ObjectSource, log observability.Logger) (*Table, error) {
	log = observability.OrNop(log)
	s := scanner.New(data, scanner.Config{Recovery: recovery.NewLenientStrategy()})
	entries := make(map[int]Entry)
	var trailers []*raw.DictObj

	var prev [2]scanner.Token
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		pos := s.Position()
		tok, err := s.Next()
		if err != nil {
			// Skip the byte that failed and keep scanning.
			if s.Seek(pos+1) != nil {
				break
			}
			prev = [2]scanner.Token{}
			continue
		}
		if tok.Type == scanner.TokenEOF {
			break
		}
		switch {
		case tok.IsKeyword("obj"):
			num, gen := prev[0], prev[1]
			if isUint(num) && isUint(gen) && num.Int > 0 {
				e := Entry{Type: EntryInUse, Offset: num.Pos, Gen: int(gen.Int)}
				if old, ok := entries[int(num.Int)]; !ok || old.Gen <= e.Gen {
					entries[int(num.Int)] = e
				}
			}
		case tok.IsKeyword("trailer"):
			if obj, err := src.DirectAt(ctx, s.Position()); err == nil {
				if d, ok := obj.(*raw.DictObj); ok {
					trailers = append(trailers, d)
				}
			}
		}
		prev[0], prev[1] = prev[1], tok
	}
	if len(entries) == 0 {
		return nil, errors.New("repair: no objects found")
	}

	var catalog raw.ObjectRef
	var info raw.ObjectRef
	nums := make([]int, 0, len(entries))
	for n := range entries {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, num := range nums {
		e := entries[num]
		ref, obj, err := src.ObjectAt(ctx, e.Offset)
		if err != nil {
			log.Debug("repair: object unreadable", observability.Int("num", num), observability.Error("error", err))
			continue
		}
		var dict *raw.DictObj
		switch v := obj.(type) {
		case *raw.DictObj:
			dict = v
		case *raw.StreamObj:
			dict = v.Dict
		}
		if dict == nil {
			continue
		}
		typ, _ := dict.Get("Type")
		switch {
		case isName(typ, "Catalog"):
			if catalog.Num == 0 {
				catalog = ref
			}
		case isName(typ, "XRef"):
			if _, ok := dict.Get("Root"); ok {
				trailers = append(trailers, dict)
			}
			delete(entries, num)
		case isName(typ, "ObjStm"):
			registerMembers(ctx, src, obj.(*raw.StreamObj), ref.Num, entries, log)
		}
		if info.Num == 0 {
			if _, ok := dict.Get("Producer"); ok {
				info = ref
			} else if _, ok := dict.Get("CreationDate"); ok {
				info = ref
			}
		}
	}

	trailer := pickTrailer(trailers, entries)
	if trailer == nil {
		if catalog.Num == 0 {
			return nil, errors.New("repair: no trailer and no /Type /Catalog object")
		}
		trailer = raw.Dict()
		trailer.Set("Root", raw.RefObj{R: catalog})
		if info.Num != 0 {
			trailer.Set("Info", raw.RefObj{R: info})
		}
	} else {
		trailer = trailer.CloneDict()
		for _, k := range []string{"Prev", "XRefStm", "Length", "Filter", "DecodeParms", "W", "Index", "Type"} {
			trailer.Delete(k)
		}
	}
	max := 0
	for n := range entries {
		if n > max {
			max = n
		}
	}
	trailer.Set("Size", raw.NumberInt(int64(max+1)))
	log.Info("xref rebuilt by scanning", observability.Int("objects", len(entries)))

	t := &Table{entries: make(map[int]Entry), StartXRef: -1, Repaired: true}
	t.addSection(Section{Offset: -1, Kind: SectionRepaired, Trailer: trailer, Entries: entries, Prev: -1, XRefStm: -1})
	t.Trailer = trailer
	return t, nil
}

// pickTrailer returns the last trailer whose /Root names a known object.
func pickTrailer(trailers []*raw.DictObj, entries map[int]Entry) *raw.DictObj {
	for i := len(trailers) - 1; i >= 0; i-- {
		root, ok := trailers[i].Get("Root")
		if !ok {
			continue
		}
		if r, ok := root.(raw.RefObj); ok {
			if _, known := entries[r.R.Num]; known {
				return trailers[i]
			}
		}
	}
	return nil
}

func registerMembers(ctx context.Context, src ObjectSource, stm *raw.StreamObj, streamNum int, entries map[int]Entry, log observability.Logger) {
	decoded, err := src.DecodeStream(ctx, stm)
	if err != nil {
		log.Debug("repair: object stream undecodable", observability.Int("num", streamNum), observability.Error("error", err))
		return
	}
	count, _ := intEntry(stm.Dict, "N")
	s := scanner.New(decoded, scanner.Config{})
	for i := 0; i < int(count); i++ {
		num, err := s.Next()
		if err != nil || !isUint(num) {
			return
		}
		if _, err := s.Next(); err != nil {
			return
		}
		if _, direct := entries[int(num.Int)]; direct {
			continue
		}
		entries[int(num.Int)] = Entry{Type: EntryCompressed, StreamNum: streamNum, Index: i}
	}
}

func isUint(t scanner.Token) bool {
	return t.Type == scanner.TokenNumber && t.IsInt && t.Int >= 0
}
