package ingest

import (
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ContentID returns the CIDv1 (raw codec, sha2-256) of content. Reports quote
// it so that a verdict can be traced to the exact bytes that produced it.
func ContentID(content []byte) string {
	sum, err := multihash.Sum(content, multihash.SHA2_256, -1)
	if err != nil {
		// Sum only fails for unknown codes or bad lengths.
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// ParseContentID checks that s is a raw sha2-256 CID and returns its digest
// as lowercase hex, the same form as ContentHash.
func ParseContentID(s string) (string, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return "", err
	}
	dec, err := multihash.Decode(c.Hash())
	if err != nil {
		return "", err
	}
	if dec.Code != multihash.SHA2_256 {
		return "", fmt.Errorf("content id %s: unsupported hash %s", s, dec.Name)
	}
	return hex.EncodeToString(dec.Digest), nil
}
