// Package security holds allocation limits and the decryption hook used
// while loading objects.
//
// Key derivation is not done here: a Handler is built from a file key the
// caller already negotiated, and only applies the per-object RC4 or AES
// transform.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"errors"
	"fmt"

	"github.com/wudi/pdfrev/ir/raw"
)

// DataClass identifies the kind of payload being encrypted or decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
)

type Handler interface {
	IsEncrypted() bool
	Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
}

type cryptAlgo int

const (
	algoNone cryptAlgo = iota
	algoRC4
	algoAES
	algoAES256
)

func (a cryptAlgo) String() string {
	switch a {
	case algoNone:
		return "Identity"
	case algoRC4:
		return "V2"
	case algoAES:
		return "AESV2"
	case algoAES256:
		return "AESV3"
	}
	return fmt.Sprintf("algo(%d)", int(a))
}

type keyHandler struct {
	key        []byte
	streamAlgo cryptAlgo
	stringAlgo cryptAlgo
}

// NewKeyHandler builds a Handler for an /Encrypt dictionary using a file key
// that has already been derived. The dictionary selects the cipher through
// /V, /R and the /CF, /StmF, /StrF crypt filter entries.
func NewKeyHandler(encrypt *raw.DictObj, key []byte) (Handler, error) {
	if encrypt == nil {
		return NoopHandler(), nil
	}
	if len(key) == 0 {
		return nil, errors.New("missing file key")
	}
	if name := nameVal(encrypt, "Filter"); name != "" && name != "Standard" {
		return nil, fmt.Errorf("unsupported encryption filter %s", name)
	}
	v, _ := numberVal(encrypt, "V")
	if v == 0 {
		v = 1
	}
	base := algoRC4
	switch {
	case v >= 5:
		base = algoAES256
	case v == 4:
		base = algoAES
	}
	h := &keyHandler{key: append([]byte(nil), key...), streamAlgo: base, stringAlgo: base}
	if v >= 4 {
		cf, _ := encrypt.Get("CF")
		cfDict, _ := cf.(*raw.DictObj)
		var err error
		if h.streamAlgo, err = cryptFilter(cfDict, nameVal(encrypt, "StmF"), base); err != nil {
			return nil, err
		}
		if h.stringAlgo, err = cryptFilter(cfDict, nameVal(encrypt, "StrF"), base); err != nil {
			return nil, err
		}
	}
	if base == algoAES256 && len(key) != 32 {
		return nil, fmt.Errorf("AES-256 requires a 32-byte key, got %d", len(key))
	}
	return h, nil
}

func cryptFilter(cf *raw.DictObj, name string, base cryptAlgo) (cryptAlgo, error) {
	switch name {
	case "Identity":
		return algoNone, nil
	case "":
		return base, nil
	}
	entry, ok := cf.Get(name)
	if !ok {
		return algoNone, fmt.Errorf("crypt filter %s not defined", name)
	}
	d, _ := entry.(*raw.DictObj)
	switch nameVal(d, "CFM") {
	case "V2":
		return algoRC4, nil
	case "AESV2":
		return algoAES, nil
	case "AESV3":
		return algoAES256, nil
	case "None":
		return algoNone, nil
	}
	return base, nil
}

func (h *keyHandler) IsEncrypted() bool { return true }

func (h *keyHandler) algo(class DataClass) cryptAlgo {
	if class == DataClassString {
		return h.stringAlgo
	}
	return h.streamAlgo
}

func (h *keyHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	algo := h.algo(class)
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := objectKey(h.key, objNum, gen, algo)
	if algo == algoRC4 {
		return rc4Crypt(key, data)
	}
	return aesCrypt(key, data, false)
}

func (h *keyHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	algo := h.algo(class)
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := objectKey(h.key, objNum, gen, algo)
	if algo == algoRC4 {
		return rc4Crypt(key, data)
	}
	return aesCrypt(key, data, true)
}

type noEncryptionHandler struct{}

func (noEncryptionHandler) IsEncrypted() bool { return false }
func (noEncryptionHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return data, nil
}

// NoopHandler passes data through unchanged.
func NoopHandler() Handler { return noEncryptionHandler{} }

// objectKey computes the per-object key (algorithm 1 of the standard
// security handler). AES-256 uses the file key directly.
func objectKey(fileKey []byte, objNum, gen int, algo cryptAlgo) []byte {
	if algo == algoAES256 {
		return fileKey
	}
	key := append([]byte{}, fileKey...)
	key = append(key, byte(objNum), byte(objNum>>8), byte(objNum>>16), byte(gen), byte(gen>>8))
	if algo == algoAES {
		key = append(key, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	}
	hashLen := len(fileKey) + 5
	if hashLen > 16 {
		hashLen = 16
	}
	hash := md5.Sum(key)
	return hash[:hashLen]
}

func rc4Crypt(key []byte, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

func aesCrypt(key []byte, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		iv := make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, err
		}
		padLen := aes.BlockSize - (len(data) % aes.BlockSize)
		pad := bytes.Repeat([]byte{byte(padLen)}, padLen)
		plain := append(append([]byte(nil), data...), pad...)
		out := make([]byte, aes.BlockSize+len(plain))
		copy(out[:aes.BlockSize], iv)
		mode := cipher.NewCBCEncrypter(block, iv)
		mode.CryptBlocks(out[aes.BlockSize:], plain)
		return out, nil
	}
	if len(data) < aes.BlockSize {
		return nil, errors.New("aes ciphertext too short")
	}
	iv := data[:aes.BlockSize]
	ct := data[aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, errors.New("aes ciphertext not multiple of blocksize")
	}
	out := make([]byte, len(ct))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, ct)
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad <= 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, errors.New("invalid aes padding")
	}
	return out[:len(out)-pad], nil
}

func numberVal(dict *raw.DictObj, key string) (int64, bool) {
	o, ok := dict.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := o.(raw.NumberObj)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

func nameVal(dict *raw.DictObj, key string) string {
	o, ok := dict.Get(key)
	if !ok {
		return ""
	}
	if n, ok := o.(raw.NameObj); ok {
		return n.Val
	}
	return ""
}
