// Package metadata builds post metadata documents for the Lens protocol and
// encodes them as inline content URIs.
package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	TextOnlySchema = "https://json-schemas.lens.dev/posts/text-only/3.0.0.json"

	MainContentFocusTextOnly = "TEXT_ONLY"

	DefaultLocale = "en"

	dataURIPrefix = "data:application/json,"
)

// ErrEmptyContent is returned when a text-only post has no content.
var ErrEmptyContent = errors.New("metadata: content is required")

type TextOnlyOptions struct {
	Content string
	Locale  string
	Tags    []string
}

// PostMetadata is the top-level metadata document referenced by a post.
type PostMetadata struct {
	Schema string      `json:"$schema"`
	Lens   LensDetails `json:"lens"`
}

type LensDetails struct {
	ID               string   `json:"id"`
	Content          string   `json:"content"`
	Locale           string   `json:"locale"`
	MainContentFocus string   `json:"mainContentFocus"`
	Tags             []string `json:"tags,omitempty"`
}

// TextOnly builds a text-only metadata document with a fresh id.
func TextOnly(opts TextOnlyOptions) (*PostMetadata, error) {
	if strings.TrimSpace(opts.Content) == "" {
		return nil, ErrEmptyContent
	}
	locale := strings.TrimSpace(opts.Locale)
	if locale == "" {
		locale = DefaultLocale
	}
	var tags []string
	seen := make(map[string]struct{}, len(opts.Tags))
	for _, t := range opts.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	return &PostMetadata{
		Schema: TextOnlySchema,
		Lens: LensDetails{
			ID:               uuid.NewString(),
			Content:          opts.Content,
			Locale:           locale,
			MainContentFocus: MainContentFocusTextOnly,
			Tags:             tags,
		},
	}, nil
}

// DataURI marshals v and returns it as a percent-encoded JSON data URI.
func DataURI(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return dataURIPrefix + escapeComponent(strings.TrimSuffix(buf.String(), "\n")), nil
}

// DecodeDataURI reverses DataURI into v.
func DecodeDataURI(uri string, v any) error {
	payload, ok := strings.CutPrefix(uri, dataURIPrefix)
	if !ok {
		return fmt.Errorf("metadata: not a json data uri")
	}
	raw, err := url.PathUnescape(payload)
	if err != nil {
		return fmt.Errorf("unescape data uri: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	return nil
}

// escapeComponent percent-encodes s leaving A-Z a-z 0-9 - _ . ! ~ * ' ( )
// untouched, the same set browsers leave alone in URI components.
func escapeComponent(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	r := strings.NewReplacer(
		"%21", "!",
		"%27", "'",
		"%28", "(",
		"%29", ")",
		"%2A", "*",
		"%7E", "~",
	)
	return r.Replace(escaped)
}
