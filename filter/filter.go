// Package filter decides which outbound emails the relay may send, based on
// regular expressions over recipient addresses and the body.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var ErrModeConflict = errors.New("include and exclude filters are mutually exclusive")

// Options captures the filtering configuration.
type Options struct {
	IncludeRecipient []string
	IncludeBody      []string
	ExcludeRecipient []string
	ExcludeBody      []string
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	includeMode      bool
	excludeMode      bool
	includeRecipient []*regexp.Regexp
	includeBody      []*regexp.Regexp
	excludeRecipient []*regexp.Regexp
	excludeBody      []*regexp.Regexp

	mu   sync.Mutex
	hits map[*regexp.Regexp]int
}

// Stats reports how often each pattern matched.
type Stats struct {
	IncludeRecipientPatterns []string
	IncludeRecipientHits     map[string]int
	IncludeBodyPatterns      []string
	IncludeBodyHits          map[string]int
	ExcludeRecipientPatterns []string
	ExcludeRecipientHits     map[string]int
	ExcludeBodyPatterns      []string
	ExcludeBodyHits          map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeRecipient, err := compilePatterns(opts.IncludeRecipient)
	if err != nil {
		return nil, fmt.Errorf("compile include-recipient pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeRecipient, err := compilePatterns(opts.ExcludeRecipient)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-recipient pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeRecipient) > 0 || len(includeBody) > 0
	excludeActive := len(excludeRecipient) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, ErrModeConflict
	}

	return &Filter{
		includeMode:      includeActive,
		excludeMode:      excludeActive,
		includeRecipient: includeRecipient,
		includeBody:      includeBody,
		excludeRecipient: excludeRecipient,
		excludeBody:      excludeBody,
		hits:             make(map[*regexp.Regexp]int),
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.includeMode || f.excludeMode
}

// Allows returns true if the message passes the filter criteria. In include
// mode at least one recipient or the body must match; in exclude mode no
// recipient and not the body may match.
func (f *Filter) Allows(recipients []string, body string) bool {
	if f.includeMode {
		return f.matchRecipients(f.includeRecipient, recipients) || f.matchAny(f.includeBody, body)
	}

	if f.excludeMode {
		if f.matchRecipients(f.excludeRecipient, recipients) || f.matchAny(f.excludeBody, body) {
			return false
		}
	}

	return true
}

// GetStats returns the patterns and their hit counts.
func (f *Filter) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		IncludeRecipientPatterns: sources(f.includeRecipient),
		IncludeRecipientHits:     f.hitsFor(f.includeRecipient),
		IncludeBodyPatterns:      sources(f.includeBody),
		IncludeBodyHits:          f.hitsFor(f.includeBody),
		ExcludeRecipientPatterns: sources(f.excludeRecipient),
		ExcludeRecipientHits:     f.hitsFor(f.excludeRecipient),
		ExcludeBodyPatterns:      sources(f.excludeBody),
		ExcludeBodyHits:          f.hitsFor(f.excludeBody),
	}
}

func (f *Filter) matchRecipients(patterns []*regexp.Regexp, recipients []string) bool {
	for _, recipient := range recipients {
		if f.matchAny(patterns, strings.TrimSpace(recipient)) {
			return true
		}
	}
	return false
}

func (f *Filter) matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			f.mu.Lock()
			f.hits[re]++
			f.mu.Unlock()
			return true
		}
	}
	return false
}

// hitsFor must be called with mu held.
func (f *Filter) hitsFor(patterns []*regexp.Regexp) map[string]int {
	out := make(map[string]int, len(patterns))
	for _, re := range patterns {
		out[re.String()] += f.hits[re]
	}
	return out
}

func sources(patterns []*regexp.Regexp) []string {
	out := make([]string, 0, len(patterns))
	for _, re := range patterns {
		out = append(out, re.String())
	}
	return out
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
