package remote

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// canonicalRequest fixes the field order of the hashed encoding. The cache
// flag and the digest itself are not part of it.
type canonicalRequest struct {
	ObjectID   *string         `json:"object_id"`
	Path       *string         `json:"path"`
	Function   *string         `json:"function"`
	Args       json.RawMessage `json:"args"`
	Kwargs     json.RawMessage `json:"kwargs"`
	IsProperty bool            `json:"is_property"`
	IsItem     bool            `json:"is_item"`
}

func NewCallRequest(objectID, path, function string, arguments Arguments, isProperty, isItem, cache bool) (req CallRequest, err error) {
	req = CallRequest{
		ObjectID:     objectID,
		Path:         path,
		Function:     function,
		Args:         arguments.Args,
		Kwargs:       arguments.Kwargs,
		PackedArgs:   arguments.PackedArgs,
		PackedKwargs: arguments.PackedKwargs,
		IsProperty:   isProperty,
		IsItem:       isItem,
		Cache:        cache,
	}
	req.Digest, err = Fingerprint(req)
	return
}

// Fingerprint hashes the canonical encoding of a request. encoding/json writes
// map keys sorted at every depth, so keyword order never matters.
func Fingerprint(req CallRequest) (string, error) {
	args, kwargs, err := req.encodedArguments()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(canonicalRequest{
		ObjectID:   nullable(req.ObjectID),
		Path:       nullable(req.Path),
		Function:   nullable(req.Function),
		Args:       args,
		Kwargs:     kwargs,
		IsProperty: req.IsProperty,
		IsItem:     req.IsItem,
	})
	if err != nil {
		return "", errorf(Serialization, err, "request cannot be encoded")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
