// Package validate holds request-shape checks applied at the HTTP edge,
// before a request reaches the mediator. Domain rules (types, required
// content, embedding dimensions) stay in the mediator.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// idRx allows the ids the mediator assigns plus caller-side ids used in tests.
var idRx = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// namespaceRx allows ASCII letters, digits, hyphen and underscore.
var namespaceRx = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// MaxTextBytes caps the free text a single record may carry.
const MaxTextBytes = 32 * 1024

// MaxLimit caps the number of search results per request.
const MaxLimit = 100

func NonEmpty(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func MaxLen(field string, v *string, limit int) error {
	if v == nil {
		return nil
	}
	if len(*v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}

func IsJSONObject(val interface{}) error {
	switch v := val.(type) {
	case map[string]interface{}:
		return nil
	case json.RawMessage:
		var m map[string]interface{}
		if err := json.Unmarshal(v, &m); err == nil {
			return nil
		}
	}
	return fmt.Errorf("must be JSON object")
}

// RecordID validates an id taken from a URL path.
func RecordID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if !idRx.MatchString(id) {
		return fmt.Errorf("id must match %s", idRx.String())
	}
	return nil
}

// Namespace validates an optional namespace; empty means the principal's own.
func Namespace(ns string) error {
	if ns == "" {
		return nil
	}
	if !namespaceRx.MatchString(ns) {
		return fmt.Errorf("namespace must match %s", namespaceRx.String())
	}
	return nil
}

// Limit accepts 0 (server default) through MaxLimit.
func Limit(n int) error {
	if n < 0 || n > MaxLimit {
		return fmt.Errorf("limit must be between 0 and %d", MaxLimit)
	}
	return nil
}

// -------- Request specific helpers ----------

// StoreRecord validates the envelope of a new record.
func StoreRecord(memoryType, namespace string, content, metadata map[string]interface{}) error {
	if err := NonEmpty("type", memoryType); err != nil {
		return err
	}
	if err := Namespace(namespace); err != nil {
		return err
	}
	if content != nil {
		if err := IsJSONObject(content); err != nil {
			return fmt.Errorf("content %w", err)
		}
	}
	if metadata != nil {
		if err := IsJSONObject(metadata); err != nil {
			return fmt.Errorf("metadata %w", err)
		}
	}
	return ContentText(content)
}

// ContentText rejects string content values that are too long or not UTF-8.
func ContentText(content map[string]interface{}) error {
	for k, v := range content {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if len(s) > MaxTextBytes {
			return fmt.Errorf("content.%s exceeds %d bytes", k, MaxTextBytes)
		}
		if !utf8.ValidString(s) {
			return fmt.Errorf("content.%s is not valid UTF-8", k)
		}
	}
	return nil
}

// Search validates the envelope of a search request.
func Search(namespace string, limit int, threshold float32) error {
	if err := Namespace(namespace); err != nil {
		return err
	}
	if err := Limit(limit); err != nil {
		return err
	}
	if threshold < -1 || threshold > 1 {
		return fmt.Errorf("threshold must be within [-1,1]")
	}
	return nil
}
