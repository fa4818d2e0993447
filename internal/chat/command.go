// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

var (
	// ErrNotPrefixed is returned by Parse when content lacks the prefix.
	ErrNotPrefixed = errors.New("message is not a command")
	// ErrUnknownCommandName means the prefix was followed by nothing.
	ErrUnknownCommandName = errors.New("empty command name")
	// ErrUnknownCommand means no handler is registered for the name.
	ErrUnknownCommand = errors.New("unknown command")
)

// Invocation is a parsed prefixed message.
type Invocation struct {
	Name   string // lookup key, lower-cased when matching is case-insensitive
	Typed  string // command name as written
	Params string
	Prefix string
}

// Parse splits "<prefix><name> <params>" at the first whitespace rune.
// Surrounding whitespace is trimmed from both parts.
func Parse(content, prefix string, caseInsensitive bool) (Invocation, error) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Invocation{}, ErrNotPrefixed
	}
	rest := strings.TrimSpace(content[len(prefix):])
	name, params := rest, ""
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		name, params = rest[:i], rest[i:]
	}
	if name == "" {
		return Invocation{Prefix: prefix}, ErrUnknownCommandName
	}
	inv := Invocation{Name: name, Typed: name, Params: strings.TrimSpace(params), Prefix: prefix}
	if caseInsensitive {
		inv.Name = strings.ToLower(name)
	}
	return inv, nil
}

// Handler runs a command for msg.
type Handler func(ctx context.Context, msg Message, inv Invocation) error

// Router maps command names to handlers.
type Router struct {
	prefix          string
	caseInsensitive bool

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter returns an empty router for prefix.
func NewRouter(prefix string, caseInsensitive bool) *Router {
	return &Router{prefix: prefix, caseInsensitive: caseInsensitive, handlers: make(map[string]Handler)}
}

// Register binds name to h, replacing any previous handler.
func (r *Router) Register(name string, h Handler) {
	if r.caseInsensitive {
		name = strings.ToLower(name)
	}
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// Dispatch parses msg and runs the matching handler. The parsed invocation
// is returned even when the handler fails.
func (r *Router) Dispatch(ctx context.Context, msg Message) (Invocation, error) {
	inv, err := Parse(msg.Content, r.prefix, r.caseInsensitive)
	if err != nil {
		return inv, err
	}
	r.mu.RLock()
	h, ok := r.handlers[inv.Name]
	r.mu.RUnlock()
	if !ok {
		return inv, fmt.Errorf("%w: %s", ErrUnknownCommand, inv.Typed)
	}
	return inv, h(ctx, msg, inv)
}
