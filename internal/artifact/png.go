// Package artifact embeds a configuration in a PNG image as a tEXt chunk keyed
// "Description" and recovers it.
package artifact

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
)

// Keyword is the tEXt keyword carrying the configuration.
const Keyword = "Description"

// Filename is the download name of a configuration artifact.
const Filename = "AGRIBOT_Config.png"

var (
	ErrNotPNG         = errors.New("artifact: not a PNG image")
	ErrMalformedChunk = errors.New("artifact: malformed PNG chunk")
	ErrNoPixelData    = errors.New("artifact: image has no IDAT chunk")
	ErrCorruptPayload = errors.New("artifact: embedded payload is not valid JSON")
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

type chunk struct {
	typ  string
	data []byte
}

// parseChunks splits a PNG stream into its chunks, checking lengths and CRCs.
func parseChunks(b []byte) ([]chunk, error) {
	if len(b) < len(pngSignature) || !bytes.Equal(b[:len(pngSignature)], pngSignature) {
		return nil, ErrNotPNG
	}
	var chunks []chunk
	rest := b[len(pngSignature):]
	for len(rest) > 0 {
		if len(rest) < 12 {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformedChunk)
		}
		n := binary.BigEndian.Uint32(rest[:4])
		if uint64(n) > uint64(len(rest)-12) {
			return nil, fmt.Errorf("%w: length %d exceeds input", ErrMalformedChunk, n)
		}
		typ := rest[4:8]
		data := rest[8 : 8+n]
		want := binary.BigEndian.Uint32(rest[8+n : 12+n])
		if got := chunkCRC(typ, data); got != want {
			return nil, fmt.Errorf("%w: bad crc for %q", ErrMalformedChunk, typ)
		}
		chunks = append(chunks, chunk{typ: string(typ), data: data})
		rest = rest[12+n:]
		if string(typ) == "IEND" {
			break
		}
	}
	return chunks, nil
}

func chunkCRC(typ, data []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(typ)
	h.Write(data)
	return h.Sum32()
}

func writeChunks(chunks []chunk) []byte {
	size := len(pngSignature)
	for _, c := range chunks {
		size += 12 + len(c.data)
	}
	out := make([]byte, 0, size)
	out = append(out, pngSignature...)
	for _, c := range chunks {
		out = binary.BigEndian.AppendUint32(out, uint32(len(c.data)))
		out = append(out, c.typ...)
		out = append(out, c.data...)
		out = binary.BigEndian.AppendUint32(out, chunkCRC([]byte(c.typ), c.data))
	}
	return out
}

// compactJSON marshals v without HTML escaping and without a trailing newline.
func compactJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Encode returns base with cfg inserted as a tEXt chunk right before the first IDAT.
// Every other chunk is kept in order.
func Encode(cfg any, base []byte) ([]byte, error) {
	chunks, err := parseChunks(base)
	if err != nil {
		return nil, err
	}
	idat := -1
	for i, c := range chunks {
		if c.typ == "IDAT" {
			idat = i
			break
		}
	}
	if idat < 0 {
		return nil, ErrNoPixelData
	}

	payload, err := compactJSON(cfg)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode payload: %w", err)
	}
	text := make([]byte, 0, len(Keyword)+1+len(payload))
	text = append(text, Keyword...)
	text = append(text, 0)
	text = append(text, payload...)

	out := make([]chunk, 0, len(chunks)+1)
	out = append(out, chunks[:idat]...)
	out = append(out, chunk{typ: "tEXt", data: text})
	out = append(out, chunks[idat:]...)
	return writeChunks(out), nil
}

// Decode returns the JSON payload of the first tEXt chunk keyed Description.
// found is false when the image carries no such chunk.
func Decode(artifact []byte) (payload any, found bool, err error) {
	raw, found, err := DecodeRaw(artifact)
	if err != nil || !found {
		return nil, found, err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return payload, true, nil
}

// DecodeRaw returns the undecoded payload bytes of the first Description chunk.
func DecodeRaw(artifact []byte) ([]byte, bool, error) {
	chunks, err := parseChunks(artifact)
	if err != nil {
		return nil, false, err
	}
	for _, c := range chunks {
		if c.typ != "tEXt" {
			continue
		}
		key, text, ok := bytes.Cut(c.data, []byte{0})
		if ok && string(key) == Keyword {
			return text, true, nil
		}
	}
	return nil, false, nil
}

// ErrNoConfig is returned by DecodeConfig when the image carries no configuration.
var ErrNoConfig = errors.New("artifact: no configuration embedded")

// DecodeConfig returns the embedded payload, ready for normalization.
func DecodeConfig(artifact []byte) (any, error) {
	payload, found, err := Decode(artifact)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoConfig
	}
	return payload, nil
}
