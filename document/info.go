package document

import (
	"github.com/wudi/pdfrev/ir/raw"
)

// Info returns the text value of key in the document information
// dictionary.
func (d *Document) Info(key string) (string, bool) {
	ref, ok := d.ctx.Info()
	if !ok {
		return "", false
	}
	info, err := d.ctx.LookupDict(raw.RefObj{R: ref})
	if info == nil || err != nil {
		return "", false
	}
	v, ok := info.Get(key)
	if !ok {
		return "", false
	}
	v, err = d.ctx.Lookup(v)
	if err != nil {
		return "", false
	}
	return raw.Text(v)
}

// SetInfo stores text under key in the information dictionary, creating the
// dictionary on first use. The dictionary is marked for the next update.
func (d *Document) SetInfo(key, text string) error {
	ref, ok := d.ctx.Info()
	var info *raw.DictObj
	if ok {
		var err error
		if info, err = d.ctx.LookupDict(raw.RefObj{R: ref}); err != nil {
			return err
		}
	}
	if info == nil {
		info = raw.Dict()
		var err error
		if ref, err = d.ctx.Register(info); err != nil {
			return err
		}
		d.ctx.SetInfo(ref)
	}
	info.Set(key, raw.TextString(text))
	d.ctx.MarkRefForSave(ref)
	return nil
}
