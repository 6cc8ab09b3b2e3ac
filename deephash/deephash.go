// Package deephash computes the canonical digest over a data item used as
// the dedup key for forwarded messages (spec.md §4.B).
package deephash

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/aonet/cu/cuerr"
)

// zeroOwnerLen is the placeholder owner length: an RSA-4096 modulus is 512
// bytes, and the zero-owner convention fills that length with zero bytes so
// the digest is a pure function of content, never of a real signing key.
const zeroOwnerLen = 512

// zeroSignatureLen mirrors zeroOwnerLen for the placeholder signature.
const zeroSignatureLen = 512

// DataItem is the subset of a bundle data item this package hashes: data,
// tags, target, and anchor. Owner and signature are synthesized as
// all-zero buffers of fixed length per the zero-owner convention.
type DataItem struct {
	Data   []byte
	Tags   []Tag
	Target string
	Anchor string
}

// Tag is a name/value pair, duplicated here (rather than importing aomsg)
// to keep this package free of a dependency on the message schema it is
// hashing inputs for.
type Tag struct {
	Name  string
	Value string
}

// Compute returns the base64-encoded deep hash of item, or a
// cuerr.ErrIllFormedMessage-wrapped error if a tag has an empty name (the
// only input it rejects; tag lengths are not checked).
func Compute(item DataItem) (string, error) {
	for _, t := range item.Tags {
		if len(t.Name) == 0 {
			return "", fmt.Errorf("deephash: empty tag name: %w", cuerr.ErrIllFormedMessage)
		}
	}

	tagBlobs := make([][]byte, 0, len(item.Tags)*2)
	for _, t := range item.Tags {
		tagBlobs = append(tagBlobs, []byte(t.Name), []byte(t.Value))
	}

	ownerList := deepHashList([][]byte{
		make([]byte, zeroOwnerLen),
		make([]byte, zeroSignatureLen),
		[]byte(item.Target),
		[]byte(item.Anchor),
	})
	tagsHash := deepHashList(tagBlobs)
	dataHash := deepHashBlob(item.Data)

	final := deepHashList([][]byte{ownerList, tagsHash, dataHash})
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(final), nil
}

// deepHashBlob implements deepHash(blob) = sha384("blob" ‖ len(blob) ‖ sha384(blob)).
func deepHashBlob(b []byte) []byte {
	inner := sha512.Sum384(b)
	h := sha512.New384()
	h.Write([]byte("blob"))
	h.Write(lengthTag(len(b)))
	h.Write(inner[:])
	return h.Sum(nil)
}

// deepHashList implements a cascading list digest over child blobs: each
// child is hashed with deepHashBlob, the first child's hash starts the
// accumulator, and each further child folds in as
// acc = sha384("list" ‖ len(2) ‖ acc ‖ deepHashBlob(child)). An empty list
// hashes to sha384("list" ‖ len(0)). The list's own length is not hashed,
// so this is not byte-compatible with Arweave's deep-hash.
func deepHashList(blobs [][]byte) []byte {
	if len(blobs) == 0 {
		h := sha512.New384()
		h.Write([]byte("list"))
		h.Write(lengthTag(0))
		return h.Sum(nil)
	}
	acc := deepHashBlob(blobs[0])
	for _, b := range blobs[1:] {
		h := sha512.New384()
		h.Write([]byte("list"))
		h.Write(lengthTag(2))
		h.Write(acc)
		h.Write(deepHashBlob(b))
		acc = h.Sum(nil)
	}
	return acc
}

func lengthTag(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}
