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
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		content string
		ci      bool
		want    Invocation
		err     error
	}{
		{"!clean", false, Invocation{Name: "clean", Typed: "clean", Prefix: "!"}, nil},
		{"!  Clean   10  ", true, Invocation{Name: "clean", Typed: "Clean", Params: "10", Prefix: "!"}, nil},
		{"!Clean a b", false, Invocation{Name: "Clean", Typed: "Clean", Params: "a b", Prefix: "!"}, nil},
		{"!clean\t10", false, Invocation{Name: "clean", Typed: "clean", Params: "10", Prefix: "!"}, nil},
		{"!clean\n5 now", false, Invocation{Name: "clean", Typed: "clean", Params: "5 now", Prefix: "!"}, nil},
		{"!clean\u00a010", false, Invocation{Name: "clean", Typed: "clean", Params: "10", Prefix: "!"}, nil},
		{"!", false, Invocation{Prefix: "!"}, ErrUnknownCommandName},
		{"!   ", false, Invocation{Prefix: "!"}, ErrUnknownCommandName},
		{"hello", false, Invocation{}, ErrNotPrefixed},
	}
	for _, tc := range cases {
		got, err := Parse(tc.content, "!", tc.ci)
		if !errors.Is(err, tc.err) {
			t.Fatalf("%q: err = %v, want %v", tc.content, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %+v, want %+v", tc.content, got, tc.want)
		}
	}
}

func TestRouter_Dispatch(t *testing.T) {
	r := NewRouter("?", true)
	var gotMsg Message
	var gotInv Invocation
	r.Register("Ping", func(_ context.Context, msg Message, inv Invocation) error {
		gotMsg, gotInv = msg, inv
		return nil
	})
	boom := errors.New("boom")
	r.Register("fail", func(context.Context, Message, Invocation) error { return boom })

	msg := Message{ID: "m1", Content: "?PING now"}
	inv, err := r.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if inv.Name != "ping" || gotInv.Params != "now" || gotMsg.ID != "m1" {
		t.Fatalf("handler saw inv=%+v msg=%+v", gotInv, gotMsg)
	}

	if _, err := r.Dispatch(context.Background(), Message{Content: "?fail"}); !errors.Is(err, boom) {
		t.Fatalf("handler error should propagate, got %v", err)
	}
	inv, err = r.Dispatch(context.Background(), Message{Content: "?nope x"})
	if !errors.Is(err, ErrUnknownCommand) || inv.Typed != "nope" {
		t.Fatalf("unknown: inv=%+v err=%v", inv, err)
	}
	if _, err := r.Dispatch(context.Background(), Message{Content: "?"}); !errors.Is(err, ErrUnknownCommandName) {
		t.Fatalf("empty name: %v", err)
	}
	if _, err := r.Dispatch(context.Background(), Message{Content: "plain"}); !errors.Is(err, ErrNotPrefixed) {
		t.Fatalf("plain text: %v", err)
	}
}

func TestRouter_CaseSensitive(t *testing.T) {
	r := NewRouter("!", false)
	r.Register("Ping", func(context.Context, Message, Invocation) error { return nil })
	if _, err := r.Dispatch(context.Background(), Message{Content: "!ping"}); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("case-sensitive router matched a different case: %v", err)
	}
	if _, err := r.Dispatch(context.Background(), Message{Content: "!Ping"}); err != nil {
		t.Fatalf("exact case: %v", err)
	}
}
