package llmutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CleanJSON returns the span from the first opening brace or bracket
// to the last closing one, dropping the prose a model may put around JSON.
func CleanJSON(bs []byte) []byte {
	start := bytes.IndexAny(bs, "{[")
	if start < 0 {
		return bs
	}
	bs = bs[start:]
	if end := bytes.LastIndexAny(bs, "}]"); end >= 0 {
		bs = bs[:end+1]
	}
	return bs
}

// TrimBackticks returns the body of a fenced block
func TrimBackticks(text string) string {
	return string(BytesTrimBackticks([]byte(text)))
}

var fence = []byte("```")

// BytesTrimBackticks returns the body of the first fenced block,
// without the language tag. Text with no fence is returned as is.
func BytesTrimBackticks(bs []byte) []byte {
	_, body, ok := bytes.Cut(bs, fence)
	if !ok {
		return bs
	}
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 && bytes.IndexAny(body[:nl], "{[") < 0 {
		body = body[nl+1:]
	}
	if end := bytes.LastIndex(body, fence); end >= 0 {
		body = body[:end]
	}
	return bytes.TrimSpace(body)
}

// StripComments removes the first <!-- --> comment,
// with the newline that follows it
func StripComments(text string) string {
	before, after, ok := strings.Cut(text, "<!--")
	if !ok {
		return text
	}
	_, rest, ok := strings.Cut(after, "-->")
	if !ok {
		return text
	}
	if len(rest) > 0 && rest[0] == '\n' {
		rest = rest[1:]
	}
	return before + rest
}

// RemoveAllComments removes every closed <!-- --> comment
func RemoveAllComments(text string) string {
	for {
		cleaned := StripComments(text)
		if cleaned == text {
			return text
		}
		text = cleaned
	}
}

// ToJSON returns compact JSON, or empty string if val cannot be encoded
func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

// Stringify returns a single text form of a value,
// strings are returned as is, and composite values as compact JSON.
func Stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(v)
	default:
		return ToJSON(val)
	}
}
