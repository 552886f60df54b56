// Package codec turns job envelopes into tamper-evident payloads and back.
//
// A payload is the lowercase hex of a keyed blake2b-512 MAC, a '|' separator
// and the msgpack-encoded envelope. Open verifies the MAC in constant time
// before the body is decoded, so a payload that fails verification is never
// interpreted.
package codec

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/albachteng/justjobs/internal/jobs"
)

const separator = '|'

var (
	ErrEmptySecret       = errors.New("serialization secret is empty")
	ErrSignatureMismatch = errors.New("payload signature mismatch")
	ErrMalformedPayload  = errors.New("malformed payload")
)

// Codec signs and verifies payloads with one shared secret. It is safe for
// concurrent use.
type Codec struct {
	key []byte
}

// New returns a codec keyed by secret. Secrets longer than blake2b's 64-byte
// key limit are first reduced with blake2b-512, so any length works and the
// same secret always yields the same key.
func New(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	var key []byte
	if len(secret) > blake2b.Size {
		sum := blake2b.Sum512(secret)
		key = sum[:]
	} else {
		key = make([]byte, len(secret))
		copy(key, secret)
	}
	return &Codec{key: key}, nil
}

func (c *Codec) mac(body []byte) []byte {
	h, err := blake2b.New512(c.key)
	if err != nil {
		// key length is bounded in New
		panic(err)
	}
	h.Write(body)
	return h.Sum(nil)
}

// Sign encodes env and prefixes it with its signature.
func (c *Codec) Sign(env *jobs.Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformedPayload)
	}
	body, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	tag := hex.EncodeToString(c.mac(body))
	payload := make([]byte, 0, len(tag)+1+len(body))
	payload = append(payload, tag...)
	payload = append(payload, separator)
	payload = append(payload, body...)
	return payload, nil
}

// Open verifies payload and decodes its envelope.
func (c *Codec) Open(payload []byte) (*jobs.Envelope, error) {
	i := bytes.IndexByte(payload, separator)
	if i < 0 {
		return nil, fmt.Errorf("%w: %w: missing tag separator", ErrMalformedPayload, ErrSignatureMismatch)
	}
	tag, body := payload[:i], payload[i+1:]

	want := []byte(hex.EncodeToString(c.mac(body)))
	if subtle.ConstantTimeCompare(tag, want) != 1 {
		return nil, ErrSignatureMismatch
	}

	var env jobs.Envelope
	if err := msgpack.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Func == "" {
		return nil, fmt.Errorf("%w: envelope names no function", ErrMalformedPayload)
	}
	return &env, nil
}

// Resolve opens payload and looks up the job it names.
func (c *Codec) Resolve(payload []byte, registry *jobs.Registry) (*jobs.Envelope, *jobs.Job, error) {
	env, err := c.Open(payload)
	if err != nil {
		return nil, nil, err
	}
	job, err := registry.Get(env.Func)
	if err != nil {
		return env, nil, err
	}
	return env, job, nil
}
