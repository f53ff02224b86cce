// Copyright 2025 The Silica Authors
// This file is part of Silica.
//
// Silica is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Silica is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Silica. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"reflect"
	"testing"
)

func TestPromptCompleter(t *testing.T) {
	complete := promptCompleter([]string{`"clk"`, `"din"`, "peek(", "poke(", "tick("})

	tests := []struct {
		line string
		want []string
	}{
		{"po", []string{"poke("}},
		{"p", []string{"peek(", "poke("}},
		{`peek("d`, []string{`peek("din"`}},
		{`poke("clk", 1); ti`, []string{`poke("clk", 1); tick(`}},
		{"", nil},
		{"xyz", nil},
	}
	for _, tt := range tests {
		if got := complete(tt.line); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("complete(%q) = %v; want %v", tt.line, got, tt.want)
		}
	}
}
