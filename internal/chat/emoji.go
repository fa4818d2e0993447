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
	"regexp"

	"tally/internal/tally/core"
)

// Custom emoji tokens look like <:name:id> or, when animated, <a:name:id>.
var emojiPattern = regexp.MustCompile(`<(a?):(\w{2,32}):(\d+)>`)

// Emoji is one custom emoji occurrence in a message.
type Emoji struct {
	ID       string
	Name     string
	Animated bool
}

// ExtractEmojis returns every custom emoji in content, in order, repeats
// included.
func ExtractEmojis(content string) []Emoji {
	matches := emojiPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]Emoji, len(matches))
	for i, m := range matches {
		out[i] = Emoji{Animated: m[1] == "a", Name: m[2], ID: m[3]}
	}
	return out
}

// EmojiEvents converts the emojis in msg to aggregator events keyed by
// emoji id and scoped to the guild.
func EmojiEvents(msg Message) []core.Event {
	emojis := ExtractEmojis(msg.Content)
	if len(emojis) == 0 {
		return nil
	}
	events := make([]core.Event, len(emojis))
	for i, e := range emojis {
		events[i] = core.Event{Key: e.ID, Scope: msg.GuildID, Name: e.Name}
	}
	return events
}
